package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const maxErrorBody = 4 << 10

// Client talks to the remote assessment service over REST.
// A Client is safe for concurrent use; WithToken derives per-user copies.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	log     zerolog.Logger
}

// NewClient creates a Client for baseURL (without trailing slash).
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "assessment_client").Logger(),
	}
}

// WithToken returns a copy of the client that authenticates as the holder of token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// ListMine returns the assessments assigned to the current user.
func (c *Client) ListMine(ctx context.Context) ([]model.AssessmentSummary, error) {
	var out []model.AssessmentSummary
	if err := c.do(ctx, "list assessments", http.MethodGet, "/assessments/mine", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start opens (or resumes) an attempt and returns the question set plus any
// prior partial submission.
func (c *Client) Start(ctx context.Context, assessmentID string) (*model.StartResponse, error) {
	var out model.StartResponse
	path := "/assessments/" + url.PathEscape(assessmentID) + "/start"
	if err := c.do(ctx, "start assessment", http.MethodPost, path, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveAnswer upserts a single answer. The endpoint is idempotent.
func (c *Client) SaveAnswer(ctx context.Context, assessmentID, questionID string, answer model.Answer) error {
	path := "/assessments/" + url.PathEscape(assessmentID) + "/answers"
	body := model.SaveAnswerRequest{QuestionID: questionID, Answer: answer}
	return c.do(ctx, "save answer", http.MethodPost, path, body, nil)
}

// Submit sends the final answers and proctoring logs.
func (c *Client) Submit(ctx context.Context, assessmentID string, req model.SubmitRequest) (*model.SubmitResult, error) {
	var out model.SubmitResult
	path := "/assessments/" + url.PathEscape(assessmentID) + "/submit"
	if err := c.do(ctx, "submit assessment", http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Assessment service call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(msg)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if err := json.Unmarshal(unwrapEnvelope(data), out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

// unwrapEnvelope accepts both bare bodies and {"data": ...} envelopes.
func unwrapEnvelope(data []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return data
	}
	if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data
	}
	return data
}

// errorMessage extracts a message from common error bodies, falling back to raw text.
func errorMessage(body []byte) string {
	var env struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		var s string
		if json.Unmarshal(env.Error, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return strings.TrimSpace(string(body))
}
