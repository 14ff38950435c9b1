// Package api is the HTTP client for the Lila backend REST surface.
//
// It covers the authenticated read endpoints the app renders from:
// the current user profile, the dashboard aggregates, the paginated
// analysis history, and per-session analysis and chat transcripts.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Error is returned for any non-2xx response so callers can branch on
// the status code (401 means the token is stale, 404 means the
// resource is gone).
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to the Lila backend. The token function is consulted on
// every request so a refreshed token is picked up without rebuilding
// the client.
type Client struct {
	baseURL string
	token   func() string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a backend client rooted at baseURL (no trailing
// slash needed). token may return "" for unauthenticated calls.
func NewClient(baseURL string, token func() string, log *zap.Logger, opts ...Option) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// User is the decoded identity of the signed-in account.
type User struct {
	GoogleID string `json:"google_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture,omitempty"`
}

// GrammarCorrection is a single correction surfaced by an analysis.
type GrammarCorrection struct {
	Original    string `json:"original"`
	Corrected   string `json:"corrected"`
	Explanation string `json:"explanation"`
}

// ConversationAnalysis is the post-session language assessment.
// Status is "pending", "done" or "failed"; ErrorDetail is set only on
// failure.
type ConversationAnalysis struct {
	SessionID            string              `json:"session_id"`
	Status               string              `json:"status"`
	AnalysedAt           time.Time           `json:"analysed_at"`
	SessionTitle         string              `json:"session_title"`
	SessionSummary       string              `json:"session_summary"`
	FluencyScore         int                 `json:"fluency_score"`
	CEFRLevel            string              `json:"cefr_level"`
	Topics               []string            `json:"topics"`
	GrammarErrors        []GrammarCorrection `json:"grammar_errors"`
	VocabularyHighlights []string            `json:"vocabulary_highlights"`
	Strengths            []string            `json:"strengths"`
	AreasForImprovement  []string            `json:"areas_for_improvement"`
	DurationSeconds      int                 `json:"duration_seconds"`
	MessageCount         int                 `json:"message_count"`
	ErrorDetail          string              `json:"error_detail,omitempty"`
}

// DashboardStats aggregates every completed analysis for the user.
type DashboardStats struct {
	TotalSessions       int                    `json:"total_sessions"`
	TotalTimeSeconds    int                    `json:"total_time_seconds"`
	AverageFluency      float64                `json:"average_fluency"`
	VocabularyGrowth    int                    `json:"vocabulary_growth"`
	LatestCEFR          string                 `json:"latest_cefr"`
	RecentGrammarErrors []GrammarCorrection    `json:"recent_grammar_errors"`
	RecentSessions      []ConversationAnalysis `json:"recent_sessions"`
	FluencyHistory      []int                  `json:"fluency_history"`
}

// HistoryPage is one page of analyses, newest first.
type HistoryPage struct {
	Page  int                    `json:"page"`
	Size  int                    `json:"size"`
	Items []ConversationAnalysis `json:"items"`
}

// ConversationTurn is one message of a stored chat transcript.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the raw chat history for a past session.
type Conversation struct {
	SessionID string             `json:"session_id"`
	Messages  []ConversationTurn `json:"messages"`
}

// Me returns the profile of the account the current token belongs to.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct {
		User *User `json:"user"`
	}
	if err := c.get(ctx, "/api/v1/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Dashboard returns the aggregated stats across all completed analyses.
func (c *Client) Dashboard(ctx context.Context) (DashboardStats, error) {
	var out DashboardStats
	err := c.get(ctx, "/api/v1/analysis/dashboard", nil, &out)
	return out, err
}

// History returns one page of past analyses. page is 1-indexed.
func (c *Client) History(ctx context.Context, page, size int) (HistoryPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	var out HistoryPage
	err := c.get(ctx, "/api/v1/analysis/history", q, &out)
	return out, err
}

// SessionAnalysis returns the full analysis for one session.
func (c *Client) SessionAnalysis(ctx context.Context, sessionID string) (ConversationAnalysis, error) {
	var out ConversationAnalysis
	err := c.get(ctx, "/api/v1/analysis/session/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

// Conversation returns the raw chat transcript for one session.
func (c *Client) Conversation(ctx context.Context, sessionID string) (Conversation, error) {
	var out Conversation
	err := c.get(ctx, "/api/v1/analysis/conversation/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Warn("backend request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &Error{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
