package store

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/chesslink/chesslink-server/internal/session"
)

var (
	ErrUserExists      = errors.New("username already taken")
	ErrUserNotFound    = errors.New("user not found")
	ErrBadCredentials  = errors.New("invalid username or password")
	ErrChallengeClosed = errors.New("challenge already resolved")
)

// PlayerStats is the aggregate record kept per account.
type PlayerStats struct {
	Username    string  `json:"username"`
	GamesPlayed int     `json:"games_played"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Ties        int     `json:"ties"`
	AvgMoves    float64 `json:"avg_moves"`
}

// Challenge is a pending invitation from one player to another, carrying the
// game id both will connect to on acceptance.
type Challenge struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	GameID    string    `json:"game_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Postgres is the shared relational repository for accounts, statistics,
// friends, challenges, and finished games.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// EnsureSchema creates the tables on first boot. active_games is a text
// array so membership updates are single atomic statements instead of a
// read-modify-write on a packed string.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username      TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			password_salt TEXT NOT NULL,
			email         TEXT NOT NULL DEFAULT '',
			active_games  TEXT[] NOT NULL DEFAULT '{}',
			games_played  INTEGER NOT NULL DEFAULT 0,
			wins          INTEGER NOT NULL DEFAULT 0,
			losses        INTEGER NOT NULL DEFAULT 0,
			ties          INTEGER NOT NULL DEFAULT 0,
			avg_moves     DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			game_id       TEXT PRIMARY KEY,
			white_id      TEXT NOT NULL,
			black_id      TEXT NOT NULL,
			ai            BOOLEAN NOT NULL DEFAULT FALSE,
			result        TEXT NOT NULL,
			result_method TEXT NOT NULL,
			moves_uci     TEXT NOT NULL,
			moves_san     TEXT NOT NULL,
			pgn           TEXT NOT NULL,
			started_at    TIMESTAMPTZ NOT NULL,
			ended_at      TIMESTAMPTZ NOT NULL,
			duration_ms   BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			username   TEXT NOT NULL REFERENCES users(username),
			friend     TEXT NOT NULL REFERENCES users(username),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (username, friend)
		)`,
		`CREATE TABLE IF NOT EXISTS challenges (
			id          TEXT PRIMARY KEY,
			from_user   TEXT NOT NULL REFERENCES users(username),
			to_user     TEXT NOT NULL REFERENCES users(username),
			game_id     TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Register creates an account. Passwords are stored as a per-user salted
// SHA-256 digest; email is kept for contact info only, never used for
// delivery here.
func (p *Postgres) Register(ctx context.Context, username, password, email string) error {
	username = strings.TrimSpace(username)
	if username == "" || username == session.AIIdentity || password == "" {
		return ErrBadCredentials
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	saltHex := hex.EncodeToString(salt)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, password_salt, email) VALUES ($1, $2, $3, $4)`,
		username, hashPassword(password, saltHex), saltHex, strings.TrimSpace(email))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrUserExists
		}
		return err
	}
	return nil
}

// Authenticate checks a username/password pair.
func (p *Postgres) Authenticate(ctx context.Context, username, password string) error {
	var hash, salt string
	err := p.db.QueryRowContext(ctx,
		`SELECT password_hash, password_salt FROM users WHERE username = $1`,
		strings.TrimSpace(username)).Scan(&hash, &salt)
	if err == sql.ErrNoRows {
		return ErrBadCredentials
	}
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(hash), []byte(hashPassword(password, salt))) {
		return ErrBadCredentials
	}
	return nil
}

func hashPassword(password, saltHex string) string {
	sum := sha256.Sum256([]byte(saltHex + ":" + password))
	return hex.EncodeToString(sum[:])
}

// Stats returns the aggregate record for one player.
func (p *Postgres) Stats(ctx context.Context, username string) (*PlayerStats, error) {
	st := &PlayerStats{Username: strings.TrimSpace(username)}
	err := p.db.QueryRowContext(ctx,
		`SELECT games_played, wins, losses, ties, avg_moves FROM users WHERE username = $1`,
		st.Username).Scan(&st.GamesPlayed, &st.Wins, &st.Losses, &st.Ties, &st.AvgMoves)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// AddActiveGame appends gameID to the player's active list. The guard makes
// the statement idempotent under concurrent joins.
func (p *Postgres) AddActiveGame(ctx context.Context, username, gameID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE users SET active_games = array_append(active_games, $2)
		 WHERE username = $1 AND NOT active_games @> ARRAY[$2]`,
		strings.TrimSpace(username), gameID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// either unknown user or already listed; disambiguate for callers
		if _, serr := p.Stats(ctx, username); serr != nil {
			return serr
		}
	}
	return nil
}

// RemoveActiveGame drops gameID from the player's active list. Removing an
// absent entry is a no-op.
func (p *Postgres) RemoveActiveGame(ctx context.Context, username, gameID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE users SET active_games = array_remove(active_games, $2) WHERE username = $1`,
		strings.TrimSpace(username), gameID)
	return err
}

// ClearActiveGames empties the player's active list and returns what it held.
func (p *Postgres) ClearActiveGames(ctx context.Context, username string) ([]string, error) {
	var cleared pq.StringArray
	err := p.db.QueryRowContext(ctx,
		`UPDATE users SET active_games = '{}' WHERE username = $1 RETURNING (
			SELECT active_games FROM users WHERE username = $1
		)`, strings.TrimSpace(username)).Scan(&cleared)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return []string(cleared), nil
}

// ActiveGames lists the player's in-flight game ids.
func (p *Postgres) ActiveGames(ctx context.Context, username string) ([]string, error) {
	var games pq.StringArray
	err := p.db.QueryRowContext(ctx,
		`SELECT active_games FROM users WHERE username = $1`,
		strings.TrimSpace(username)).Scan(&games)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return []string(games), nil
}

// RecordResult folds one finished game into the player's aggregates in a
// single statement; the running average is recomputed from the pre-update
// column values.
func (p *Postgres) RecordResult(ctx context.Context, username, outcome string, moveCount int) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE users SET
			games_played = games_played + 1,
			wins   = wins   + CASE WHEN $2 = 'win'  THEN 1 ELSE 0 END,
			losses = losses + CASE WHEN $2 = 'loss' THEN 1 ELSE 0 END,
			ties   = ties   + CASE WHEN $2 = 'tie'  THEN 1 ELSE 0 END,
			avg_moves = ((avg_moves * games_played) + $3) / (games_played + 1)
		 WHERE username = $1`,
		strings.TrimSpace(username), outcome, moveCount)
	return err
}

// SaveGameResult upserts a finished game, including its PGN rendering.
func (p *Postgres) SaveGameResult(ctx context.Context, rec *session.GameRecord, method string) error {
	if rec == nil {
		return nil
	}
	result := resultToken(rec)
	pgn := buildPGN(rec, mapResultToPGN(result), method)
	duration := rec.UpdatedAt.Sub(rec.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO games (
			game_id, white_id, black_id, ai,
			result, result_method, moves_uci, moves_san, pgn,
			started_at, ended_at, duration_ms
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (game_id) DO UPDATE SET
			result=EXCLUDED.result,
			result_method=EXCLUDED.result_method,
			moves_uci=EXCLUDED.moves_uci,
			moves_san=EXCLUDED.moves_san,
			pgn=EXCLUDED.pgn,
			ended_at=EXCLUDED.ended_at,
			duration_ms=EXCLUDED.duration_ms`,
		rec.ID, rec.Colors.White, rec.Colors.Black, rec.AI,
		result, strings.TrimSpace(method),
		strings.Join(rec.MovesUCI, " "), strings.Join(rec.MovesSAN, " "), pgn,
		rec.CreatedAt, rec.UpdatedAt, duration)
	return err
}

func resultToken(rec *session.GameRecord) string {
	switch rec.Winner {
	case "":
		return "draw"
	case rec.Colors.White:
		return "white"
	case rec.Colors.Black:
		return "black"
	default:
		return ""
	}
}

// AddFriend records a one-directional friendship edge.
func (p *Postgres) AddFriend(ctx context.Context, username, friend string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO friends (username, friend) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		strings.TrimSpace(username), strings.TrimSpace(friend))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
		return ErrUserNotFound
	}
	return err
}

func (p *Postgres) RemoveFriend(ctx context.Context, username, friend string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM friends WHERE username = $1 AND friend = $2`,
		strings.TrimSpace(username), strings.TrimSpace(friend))
	return err
}

func (p *Postgres) Friends(ctx context.Context, username string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT friend FROM friends WHERE username = $1 ORDER BY friend`,
		strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateChallenge opens an invitation and allocates the game id the pair
// will share.
func (p *Postgres) CreateChallenge(ctx context.Context, from, to string) (*Challenge, error) {
	ch := &Challenge{
		ID:        uuid.NewString(),
		From:      strings.TrimSpace(from),
		To:        strings.TrimSpace(to),
		GameID:    uuid.NewString(),
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO challenges (id, from_user, to_user, game_id, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		ch.ID, ch.From, ch.To, ch.GameID, ch.Status, ch.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return ch, nil
}

// Challenges lists pending invitations addressed to the player.
func (p *Postgres) Challenges(ctx context.Context, username string) ([]*Challenge, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, from_user, to_user, game_id, status, created_at
		 FROM challenges WHERE to_user = $1 AND status = 'pending' ORDER BY created_at`,
		strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Challenge
	for rows.Next() {
		ch := &Challenge{}
		if err := rows.Scan(&ch.ID, &ch.From, &ch.To, &ch.GameID, &ch.Status, &ch.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ResolveChallenge accepts or declines a pending invitation addressed to
// username and returns it. A challenge resolves at most once.
func (p *Postgres) ResolveChallenge(ctx context.Context, username, challengeID string, accept bool) (*Challenge, error) {
	status := "declined"
	if accept {
		status = "accepted"
	}
	ch := &Challenge{}
	err := p.db.QueryRowContext(ctx,
		`UPDATE challenges SET status = $3
		 WHERE id = $1 AND to_user = $2 AND status = 'pending'
		 RETURNING id, from_user, to_user, game_id, status, created_at`,
		strings.TrimSpace(challengeID), strings.TrimSpace(username), status).
		Scan(&ch.ID, &ch.From, &ch.To, &ch.GameID, &ch.Status, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrChallengeClosed
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}
