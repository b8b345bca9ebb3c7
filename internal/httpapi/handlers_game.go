package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/chesslink/chesslink-server/internal/board"
	"github.com/chesslink/chesslink-server/internal/rules"
	"github.com/chesslink/chesslink-server/internal/session"

	nchess "github.com/corentings/chess/v2"
)

// handleCreate allocates a fresh game id. When a playerID is supplied the
// creator takes the first seat right away (with an AI opponent if asked);
// authenticated creators get the game on their active list.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	gameID := uuid.NewString()

	q := r.URL.Query()
	creator := strings.TrimSpace(q.Get("playerID"))
	if creator != "" {
		wantAI := q.Get("ai") == "true" || q.Get("ai") == "1"
		depth := s.cfg.DefaultDepth
		if raw := strings.TrimSpace(q.Get("depth")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "%v", session.ErrInvalidDepth)
				return
			}
			depth = n
		}
		if err := s.registry.Get(gameID).Join(r.Context(), creator, wantAI, depth); err != nil {
			writeError(w, statusFor(err), "%v", err)
			return
		}
		if player, ok := s.bearerIdentity(r); ok && player == creator {
			if err := s.users.AddActiveGame(r.Context(), player, gameID); err != nil {
				s.logger.Warn("create: active list not updated",
					zap.String("player", player), zap.Error(err))
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"game_id": gameID})
}

// connectQuery is the validated /connect query string.
type connectQuery struct {
	gameID   string
	playerID string
	wantAI   bool
	depth    int
}

func (s *Server) parseConnectQuery(r *http.Request) (*connectQuery, error) {
	q := r.URL.Query()
	cq := &connectQuery{
		gameID:   strings.TrimSpace(q.Get("gameID")),
		playerID: strings.TrimSpace(q.Get("playerID")),
		wantAI:   q.Get("ai") == "true" || q.Get("ai") == "1",
		depth:    s.cfg.DefaultDepth,
	}
	if cq.gameID == "" {
		return nil, errors.New("gameID is required")
	}
	if cq.playerID == "" {
		return nil, session.ErrMissingPlayer
	}
	if raw := strings.TrimSpace(q.Get("depth")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, session.ErrInvalidDepth
		}
		cq.depth = n
	}
	return cq, nil
}

// handleConnect joins the player and upgrades to WebSocket. Seat and depth
// validation happens before the upgrade so rejections arrive as plain HTTP
// statuses instead of an immediately-closed socket.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cq, err := s.parseConnectQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	coord := s.registry.Get(cq.gameID)
	if err := coord.Join(r.Context(), cq.playerID, cq.wantAI, cq.depth); err != nil &&
		!errors.Is(err, session.ErrAlreadyJoined) {
		writeError(w, statusFor(err), "%v", err)
		return
	}

	s.serveWS(w, r, coord, cq)
}

// handleGameInfo returns the standardized snapshot without requiring a live
// connection. A never-played game id reports the initial position.
func (s *Server) handleGameInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	gameID := strings.TrimSpace(r.URL.Query().Get("gameID"))
	if gameID == "" {
		writeError(w, http.StatusBadRequest, "gameID is required")
		return
	}
	viewer := strings.TrimSpace(r.URL.Query().Get("playerID"))

	st, err := s.registry.Get(gameID).Snapshot(r.Context(), viewer)
	if err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type updateGameRequest struct {
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id,omitempty"`
	Action   string `json:"action,omitempty"`

	// PlayerLeaving is the wire-compatible shorthand for
	// {player_id: X, action: "leave"}.
	PlayerLeaving string `json:"playerLeaving,omitempty"`
}

// handleUpdateGameInfo processes explicit session mutations that arrive off
// the socket. "leave" is the only supported action: a permanent departure
// that concedes a running game.
func (s *Server) handleUpdateGameInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req updateGameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.PlayerLeaving != "" {
		req.PlayerID, req.Action = req.PlayerLeaving, "leave"
	}
	if req.GameID == "" {
		req.GameID = strings.TrimSpace(r.URL.Query().Get("gameID"))
	}
	if strings.TrimSpace(req.GameID) == "" || strings.TrimSpace(req.PlayerID) == "" {
		writeError(w, http.StatusBadRequest, "game_id and player_id are required")
		return
	}
	if req.Action != "leave" {
		writeError(w, http.StatusBadRequest, "unsupported action %q", req.Action)
		return
	}

	if err := s.registry.Get(req.GameID).Leave(r.Context(), req.PlayerID); err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// handleBoard renders the current position as a PNG.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	gameID := strings.TrimSpace(r.URL.Query().Get("gameID"))
	if gameID == "" {
		writeError(w, http.StatusBadRequest, "gameID is required")
		return
	}

	rec, err := s.registry.Get(gameID).Record(r.Context())
	if err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	b, err := rules.Board(rec.FEN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stored position unreadable")
		return
	}

	var highlight *board.Highlight
	if len(rec.LastMove) >= 4 {
		from, ferr := parseSquare(rec.LastMove[0:2])
		to, terr := parseSquare(rec.LastMove[2:4])
		if ferr == nil && terr == nil {
			highlight = &board.Highlight{From: from, To: to}
		}
	}

	png, err := s.renderer.RenderPNG(r.Context(), b, highlight)
	if err != nil {
		s.logger.Error("board render failed", zap.String("game_id", gameID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func parseSquare(s string) (nchess.Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, errors.New("bad square")
	}
	file := nchess.File(s[0] - 'a')
	rank := nchess.Rank(s[1] - '1')
	return nchess.NewSquare(file, rank), nil
}
