// Package httpapi exposes the coordination service over HTTP: game
// lifecycle endpoints, the WebSocket upgrade for real-time play, board
// snapshots, and the player account surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/chesslink/chesslink-server/internal/auth"
	"github.com/chesslink/chesslink-server/internal/board"
	"github.com/chesslink/chesslink-server/internal/config"
	"github.com/chesslink/chesslink-server/internal/obslog"
	"github.com/chesslink/chesslink-server/internal/session"
	"github.com/chesslink/chesslink-server/internal/store"
	"github.com/chesslink/chesslink-server/pkg/wire"
)

// Server wires the session registry, the shared account repository, and the
// board renderer behind the HTTP surface. users may be nil when no database
// is configured; account routes then answer 503.
type Server struct {
	cfg      *config.AppConfig
	registry *session.Registry
	users    *store.Postgres
	signer   *auth.Signer
	renderer *board.Renderer
	logger   *zap.Logger

	router *httprouter.Router
	server *http.Server
}

func NewServer(cfg *config.AppConfig, registry *session.Registry, users *store.Postgres, signer *auth.Signer) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		users:    users,
		signer:   signer,
		renderer: board.NewRenderer(),
		logger:   obslog.L().Named("http"),
		router:   httprouter.New(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	// game lifecycle
	s.router.POST("/create", s.handleCreate)
	s.router.GET("/connect", s.handleConnect)
	s.router.GET("/game-info", s.handleGameInfo)
	s.router.POST("/update-game-info", s.handleUpdateGameInfo)
	s.router.GET("/board", s.handleBoard)

	// accounts
	s.router.POST("/player/register", s.handleRegister)
	s.router.POST("/player/login", s.handleLogin)
	s.router.GET("/player/games", s.authed(s.handlePlayerGames))
	s.router.POST("/player/join-game", s.authed(s.handleJoinGame))
	s.router.POST("/player/end-game", s.authed(s.handleEndGame))
	s.router.POST("/player/end-all-games", s.authed(s.handleEndAllGames))

	// social
	s.router.GET("/player/friends", s.authed(s.handleFriends))
	s.router.POST("/player/friends/add", s.authed(s.handleAddFriend))
	s.router.POST("/player/friends/remove", s.authed(s.handleRemoveFriend))
	s.router.GET("/player/challenges", s.authed(s.handleChallenges))
	s.router.POST("/player/challenge", s.authed(s.handleCreateChallenge))
	s.router.POST("/player/challenge/accept", s.authed(s.handleAcceptChallenge))
	s.router.POST("/player/challenge/decline", s.authed(s.handleDeclineChallenge))
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", zap.String("addr", s.cfg.Addr))
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authedHandle receives the verified identity from the bearer token.
type authedHandle func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, player string)

func (s *Server) authed(h authedHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.users == nil {
			writeError(w, http.StatusServiceUnavailable, "player accounts are not configured")
			return
		}
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok {
			writeError(w, http.StatusForbidden, "missing bearer token")
			return
		}
		player, err := s.signer.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusForbidden, "invalid or expired token")
			return
		}
		h(w, r, ps, player)
	}
}

// bearerIdentity extracts a verified identity from an optional bearer
// token. Used where authentication unlocks extras but is not required.
func (s *Server) bearerIdentity(r *http.Request) (string, bool) {
	if s.users == nil {
		return "", false
	}
	token, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer ")
	if !ok {
		return "", false
	}
	player, err := s.signer.Verify(strings.TrimSpace(token))
	if err != nil {
		return "", false
	}
	return player, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError uses the same envelope the real-time path speaks, so clients
// parse failures uniformly.
func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, wire.Errorf(format, args...))
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrGameFull):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotParticipant),
		errors.Is(err, session.ErrGameFinished),
		errors.Is(err, session.ErrGameNotActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrMissingPlayer),
		errors.Is(err, session.ErrInvalidDepth),
		errors.Is(err, session.ErrInvalidMove):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrUserNotFound), errors.Is(err, store.ErrChallengeClosed):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
