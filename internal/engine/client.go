// Package engine is the client for the external move-recommendation service
// (a stockfish.online-compatible HTTP API). The service takes a position and
// a search depth and answers with a suggested best move.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	// MinDepth and MaxDepth bound the search depth the service accepts.
	MinDepth = 1
	MaxDepth = 15
)

var (
	// ErrDepthOutOfRange is returned before any network call when the
	// requested depth falls outside [MinDepth, MaxDepth].
	ErrDepthOutOfRange = fmt.Errorf("depth must be between %d and %d", MinDepth, MaxDepth)
	// ErrNoMove is returned when the service answered but produced no move.
	ErrNoMove = errors.New("engine returned no move")
)

type Client struct {
	baseURL string
	http    *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second, MaxConnsPerHost: 16},
		timeout:  15 * time.Second,
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type bestMoveResponse struct {
	Success  bool   `json:"success"`
	BestMove string `json:"bestmove"`
	Error    string `json:"error,omitempty"`
}

// BestMove asks the service for a move in the given position. The returned
// string is a UCI move. Network failures, timeouts, non-2xx statuses and
// empty answers are all surfaced as errors; the caller decides how a failed
// recommendation affects the game.
func (c *Client) BestMove(ctx context.Context, fen string, depth int) (string, error) {
	if depth < MinDepth || depth > MaxDepth {
		return "", ErrDepthOutOfRange
	}
	if strings.TrimSpace(fen) == "" {
		return "", errors.New("fen required")
	}

	uri := c.baseURL + "?fen=" + url.QueryEscape(fen) + "&depth=" + strconv.Itoa(depth)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(uri)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("engine request failed: %w", err)
			if attempt == attempts {
				return "", lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return "", lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("engine api error: status=%d body=%s", status, truncate(string(resp.Body()), 256))
			if attempt == attempts || !shouldRetryStatus(status) {
				return "", lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return "", lastErr
			}
			continue
		}

		var parsed bestMoveResponse
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			return "", fmt.Errorf("decode engine response: %w", err)
		}
		if !parsed.Success && parsed.Error != "" {
			return "", fmt.Errorf("engine rejected request: %s", parsed.Error)
		}
		move := extractMove(parsed.BestMove)
		if move == "" {
			return "", ErrNoMove
		}
		return move, nil
	}

	if lastErr == nil {
		lastErr = errors.New("engine request failed")
	}
	return "", lastErr
}

// extractMove pulls the move token out of the service's bestmove field,
// which arrives as a raw UCI line ("bestmove e7e5 ponder d2d4") or, from
// older deployments, as the bare move.
func extractMove(bestmove string) string {
	fields := strings.Fields(strings.TrimSpace(bestmove))
	if len(fields) == 0 {
		return ""
	}
	if fields[0] == "bestmove" {
		if len(fields) < 2 {
			return ""
		}
		return strings.ToLower(fields[1])
	}
	return strings.ToLower(fields[0])
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
