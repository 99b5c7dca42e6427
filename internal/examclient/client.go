// Package examclient talks to the remote exam-content service that owns
// packages, attempts, answers and scoring.
package examclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrRemoteRejected is returned when the service answers with a non-2xx
// status, an undecodable body or success:false.
var ErrRemoteRejected = errors.New("exam service rejected the request")

const maxBodyBytes = 4 << 20

// Config configures a Client. When TokenURL and ClientID are set the client
// authenticates with OAuth2 client credentials; otherwise a non-empty Token
// is sent as a static bearer token.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Token        string
	Timeout      time.Duration
	// HTTPClient is the transport underneath the oauth2 layer. Optional.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// New builds a Client from cfg.
func New(cfg Config, log zerolog.Logger) *Client {
	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}

	var h *http.Client
	switch {
	case cfg.TokenURL != "" && cfg.ClientID != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		h = cc.Client(ctx)
	case cfg.Token != "":
		h = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Token,
			TokenType:   "Bearer",
		}))
	case cfg.HTTPClient != nil:
		c := *cfg.HTTPClient
		h = &c
	default:
		h = &http.Client{}
	}
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    h,
		log:     log.With().Str("component", "exam_client").Logger(),
	}
}

// envelope is the status part every response carries.
type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// ListPackages returns the packages available to members.
func (c *Client) ListPackages(ctx context.Context) ([]model.ExamPackage, error) {
	var out struct {
		Data []model.ExamPackage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/cbt/paket", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// StartAttempt opens a new attempt at packageID for memberID and returns its ID.
func (c *Client) StartAttempt(ctx context.Context, packageID string, memberID int64) (string, error) {
	body := map[string]any{"paket_id": packageID, "user_id": memberID}
	var out struct {
		AttemptID model.OpaqueID `json:"latihan_id"`
	}
	if err := c.confirm(ctx, http.MethodPost, "/api/cbt/latihan/mulai", body, &out); err != nil {
		return "", err
	}
	if out.AttemptID == "" {
		return "", fmt.Errorf("%w: start attempt: missing latihan_id", ErrRemoteRejected)
	}
	return string(out.AttemptID), nil
}

// FetchAttempt returns the current question set and time budget of an attempt.
// Questions are returned sorted by ascending ID.
func (c *Client) FetchAttempt(ctx context.Context, attemptID string) (*model.AttemptPaper, error) {
	var out struct {
		Soal      []model.Question `json:"soal"`
		Questions []model.Question `json:"questions"`
		Durasi    model.Decimal    `json:"durasi"`
		PackageID model.OpaqueID   `json:"paket_id"`
	}
	if err := c.confirm(ctx, http.MethodGet, attemptPath(attemptID, ""), nil, &out); err != nil {
		return nil, err
	}

	qs := out.Soal
	if len(qs) == 0 {
		qs = out.Questions
	}
	model.SortQuestions(qs)

	return &model.AttemptPaper{
		PackageID:       string(out.PackageID),
		Questions:       qs,
		DurationSeconds: int64(float64(out.Durasi) * 60),
	}, nil
}

// RecordAnswer stores one answer. An empty answer clears the question.
func (c *Client) RecordAnswer(ctx context.Context, attemptID string, questionID model.QuestionID, answer string) error {
	body := map[string]any{"soal_id": questionID, "jawaban": answer}
	return c.do(ctx, http.MethodPost, attemptPath(attemptID, "/jawab"), body, nil)
}

// Finish closes the attempt and triggers scoring.
func (c *Client) Finish(ctx context.Context, attemptID string) error {
	return c.confirm(ctx, http.MethodPost, attemptPath(attemptID, "/selesai"), struct{}{}, nil)
}

// Result returns the scored result of a finished attempt.
func (c *Client) Result(ctx context.Context, attemptID string) (*model.AttemptResult, error) {
	var out struct {
		Data *model.AttemptResult `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, attemptPath(attemptID, "/hasil"), nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, fmt.Errorf("%w: result: missing data", ErrRemoteRejected)
	}
	return out.Data, nil
}

// History lists a member's past attempts.
func (c *Client) History(ctx context.Context, memberID int64) ([]model.HistoryEntry, error) {
	var out struct {
		Data []model.HistoryEntry `json:"data"`
	}
	path := "/api/cbt/latihan/history/" + strconv.FormatInt(memberID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func attemptPath(attemptID, suffix string) string {
	return "/api/cbt/latihan/" + url.PathEscape(attemptID) + suffix
}

// do sends one request and decodes the response into out. The status
// envelope is checked before out is touched.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.send(ctx, method, path, body, out, false)
}

// confirm is do for calls whose outcome the exam service must acknowledge
// with "success": true. A missing flag or an empty body is a rejection.
func (c *Client) confirm(ctx context.Context, method, path string, body, out any) error {
	return c.send(ctx, method, path, body, out, true)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any, requireSuccess bool) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("exam service %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("exam service %s %s: read body: %w", method, path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", res.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("exam service call")

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if res.StatusCode/100 != 2 {
		msg := res.Status
		if decodeErr == nil && env.Message != "" {
			msg = env.Message
		}
		return fmt.Errorf("%w: %s %s: %s", ErrRemoteRejected, method, path, msg)
	}
	if decodeErr != nil {
		// Acknowledgement-only endpoints may answer with an empty body.
		if !requireSuccess && out == nil && len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		return fmt.Errorf("%w: %s %s: decode: %v", ErrRemoteRejected, method, path, decodeErr)
	}
	if requireSuccess && env.Success == nil {
		return fmt.Errorf("%w: %s %s: missing success flag", ErrRemoteRejected, method, path)
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "success=false"
		}
		return fmt.Errorf("%w: %s %s: %s", ErrRemoteRejected, method, path, msg)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %s %s: decode: %v", ErrRemoteRejected, method, path, err)
		}
	}
	return nil
}
