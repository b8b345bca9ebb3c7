package httpapi

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.users == nil {
		writeError(w, http.StatusServiceUnavailable, "player accounts are not configured")
		return
	}
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.users.Register(r.Context(), req.Username, req.Password, req.Email); err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	s.issueToken(w, req.Username)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.users == nil {
		writeError(w, http.StatusServiceUnavailable, "player accounts are not configured")
		return
	}
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.users.Authenticate(r.Context(), req.Username, req.Password); err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	s.issueToken(w, req.Username)
}

func (s *Server) issueToken(w http.ResponseWriter, username string) {
	token, err := s.signer.Sign(strings.TrimSpace(username))
	if err != nil {
		s.logger.Error("token signing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"username": strings.TrimSpace(username),
		"token":    token,
	})
}

type activeGameSummary struct {
	GameID  string   `json:"game_id"`
	Players []string `json:"players"`
	Turn    string   `json:"turn"`
	Status  string   `json:"status"`
}

// handlePlayerGames returns the caller's active games, each with its
// current occupants and turn, plus aggregate statistics.
func (s *Server) handlePlayerGames(w http.ResponseWriter, r *http.Request, _ httprouter.Params, player string) {
	ids, err := s.users.ActiveGames(r.Context(), player)
	if err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	games := make([]activeGameSummary, 0, len(ids))
	for _, id := range ids {
		summary := activeGameSummary{GameID: id}
		if rec, rerr := s.registry.Get(id).Record(r.Context()); rerr == nil {
			summary.Players = rec.Players
			summary.Status = string(rec.Status)
		}
		if st, serr := s.registry.Get(id).Snapshot(r.Context(), player); serr == nil {
			summary.Turn = st.Turn
		}
		games = append(games, summary)
	}
	stats, err := s.users.Stats(r.Context(), player)
	if err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_games": games,
		"stats":        stats,
	})
}

type gameRefRequest struct {
	GameID string `json:"game_id"`
}

func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params, player string) {
	var req gameRefRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.GameID) == "" {
		writeError(w, http.StatusBadRequest, "game_id is required")
		return
	}
	if err := s.users.AddActiveGame(r.Context(), player, strings.TrimSpace(req.GameID)); err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

func (s *Server) handleEndGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params, player string) {
	var req gameRefRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.GameID) == "" {
		writeError(w, http.StatusBadRequest, "game_id is required")
		return
	}
	if err := s.users.RemoveActiveGame(r.Context(), player, strings.TrimSpace(req.GameID)); err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) handleEndAllGames(w http.ResponseWriter, r *http.Request, _ httprouter.Params, player string) {
	cleared, err := s.users.ClearActiveGames(r.Context(), player)
	if err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ended", "cleared": cleared})
}

type friendRequest struct {
	Friend string `json:"friend"`
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request, _ httprouter.Params, player string) {
	friends, err := s.users.Friends(r.Context(), player)
	if err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"friends": friends})
}

func (s *Server) handleAddFriend(w http.ResponseWriter, r *http.Request, _ httprouter.Params, player string) {
	var req friendRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Friend) == "" {
		writeError(w, http.StatusBadRequest, "friend is required")
		return
	}
	if err := s.users.AddFriend(r.Context(), player, req.Friend); err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveFriend(w http.ResponseWriter, r *http.Request, _ httprouter.Params, player string) {
	var req friendRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Friend) == "" {
		writeError(w, http.StatusBadRequest, "friend is required")
		return
	}
	if err := s.users.RemoveFriend(r.Context(), player, req.Friend); err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type challengeRequest struct {
	To string `json:"to"`
}

func (s *Server) handleCreateChallenge(w http.ResponseWriter, r *http.Request, _ httprouter.Params, player string) {
	var req challengeRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.To) == "" {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}
	ch, err := s.users.CreateChallenge(r.Context(), player, req.To)
	if err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleChallenges(w http.ResponseWriter, r *http.Request, _ httprouter.Params, player string) {
	challenges, err := s.users.Challenges(r.Context(), player)
	if err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenges": challenges})
}

type challengeRefRequest struct {
	ChallengeID string `json:"challenge_id"`
}

// handleAcceptChallenge resolves a pending invitation in the recipient's
// favor and puts the shared game on both players' active lists; connecting
// is still a separate step.
func (s *Server) handleAcceptChallenge(w http.ResponseWriter, r *http.Request, _ httprouter.Params, player string) {
	var req challengeRefRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.ChallengeID) == "" {
		writeError(w, http.StatusBadRequest, "challenge_id is required")
		return
	}
	ch, err := s.users.ResolveChallenge(r.Context(), player, req.ChallengeID, true)
	if err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	if err := s.users.AddActiveGame(r.Context(), ch.From, ch.GameID); err != nil {
		s.logger.Warn("challenge: challenger active list not updated", zap.Error(err))
	}
	if err := s.users.AddActiveGame(r.Context(), ch.To, ch.GameID); err != nil {
		s.logger.Warn("challenge: recipient active list not updated", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleDeclineChallenge(w http.ResponseWriter, r *http.Request, _ httprouter.Params, player string) {
	var req challengeRefRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.ChallengeID) == "" {
		writeError(w, http.StatusBadRequest, "challenge_id is required")
		return
	}
	ch, err := s.users.ResolveChallenge(r.Context(), player, req.ChallengeID, false)
	if err != nil {
		writeError(w, statusFor(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}
