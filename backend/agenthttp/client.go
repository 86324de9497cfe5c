// Package agenthttp implements backend.Client against the agent's HTTP API.
//
// The agent exposes POST /upload (multipart), POST /chat (JSON), and
// POST /report. Failures carry FastAPI-style bodies where "detail" is either
// a plain string or a list of {loc, msg, type} records; both are flattened
// into the typed error detail.
package agenthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/wizardhq/datawizard/backend"
)

// Client talks to a remote DataWizard agent over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (default: 120s timeout,
// analysis turns can be slow).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the agent at baseURL (e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// --- Wire shapes ---

type uploadResponse struct {
	Message  string         `json:"message"`
	Filename string         `json:"filename"`
	Shape    []int          `json:"shape"`
	Columns  []string       `json:"columns"`
	Summary  string         `json:"summary"`
	Catalog  map[string]any `json:"catalog"`
}

type chatRequest struct {
	Message         string `json:"message"`
	Mode            string `json:"mode"`
	IsConfirmedPlan bool   `json:"is_confirmed_plan"`
}

type chatResponse struct {
	Response string `json:"response"`
	Code     string `json:"code"`
	Image    string `json:"image"`
	Thought  string `json:"thought"`
	Status   string `json:"status"`
}

type reportResponse struct {
	Report string `json:"report"`
}

// --- backend.Client ---

// Upload sends the dataset as a multipart form, replacing any prior dataset
// held by the agent.
func (c *Client) Upload(ctx context.Context, filename string, data io.Reader) (*backend.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var wire uploadResponse
	if err := c.do(req, &wire); err != nil {
		return nil, err
	}

	res := &backend.UploadResult{
		Filename:    wire.Filename,
		ColumnNames: wire.Columns,
		SummaryText: wire.Summary,
		Catalog:     wire.Catalog,
	}
	if len(wire.Shape) >= 2 {
		res.RowCount = wire.Shape[0]
		res.ColumnCount = wire.Shape[1]
	} else {
		// The agent always reports the dataframe shape; a reply without it
		// is a protocol failure, not a partial success.
		return nil, &backend.Error{Status: http.StatusOK, Detail: "upload response missing dataset shape"}
	}
	return res, nil
}

// Chat sends one conversational turn.
func (c *Client) Chat(ctx context.Context, creq backend.ChatRequest) (*backend.ChatReply, error) {
	body, err := json.Marshal(chatRequest{
		Message:         creq.Message,
		Mode:            string(creq.Mode),
		IsConfirmedPlan: creq.IsConfirmedPlan,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var wire chatResponse
	if err := c.do(req, &wire); err != nil {
		return nil, err
	}

	return &backend.ChatReply{
		ResponseText:  wire.Response,
		Thought:       wire.Thought,
		GeneratedCode: wire.Code,
		ImageData:     wire.Image,
		Status:        normalizeStatus(wire.Status),
	}, nil
}

// Report asks the agent for a narrative report; the agent operates on the
// dataset it already holds, so the request carries no body.
func (c *Client) Report(ctx context.Context) (*backend.ReportResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/report", nil)
	if err != nil {
		return nil, err
	}

	var wire reportResponse
	if err := c.do(req, &wire); err != nil {
		return nil, err
	}
	return &backend.ReportResult{ReportText: wire.Report}, nil
}

// --- Helpers ---

// do executes the request and decodes a 2xx body into out. Non-2xx responses
// become *backend.Error with any detail the body carries; undecodable success
// bodies are protocol failures mapped to the same error type.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling agent: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("reading agent response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &backend.Error{Status: resp.StatusCode, Detail: extractDetail(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &backend.Error{Status: resp.StatusCode, Detail: "malformed agent response: " + err.Error()}
	}
	return nil
}

// extractDetail flattens a FastAPI error body. "detail" may be a string or a
// list of validation records; anything else yields an empty detail.
func extractDetail(body []byte) string {
	var wrapper struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil || len(wrapper.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(wrapper.Detail, &s); err == nil {
		return s
	}

	var records []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(wrapper.Detail, &records); err == nil {
		msgs := make([]string, 0, len(records))
		for _, r := range records {
			if r.Msg != "" {
				msgs = append(msgs, r.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// normalizeStatus maps wire status strings to ChatStatus. Older agent
// builds emit "waiting_confirmation" for the confirmation state.
func normalizeStatus(s string) backend.ChatStatus {
	switch s {
	case string(backend.StatusAwaitingConfirmation), "waiting_confirmation":
		return backend.StatusAwaitingConfirmation
	default:
		return backend.StatusOK
	}
}

var _ backend.Client = (*Client)(nil)
