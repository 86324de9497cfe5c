package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wizardhq/datawizard/backend"
	"github.com/wizardhq/datawizard/model"
	"github.com/wizardhq/datawizard/session"
	sqliteStore "github.com/wizardhq/datawizard/store/sqlite"
)

type stubBackend struct {
	uploadFn func(ctx context.Context, filename string, data io.Reader) (*backend.UploadResult, error)
	chatFn   func(ctx context.Context, req backend.ChatRequest) (*backend.ChatReply, error)
	reportFn func(ctx context.Context) (*backend.ReportResult, error)
}

func (s *stubBackend) Upload(ctx context.Context, filename string, data io.Reader) (*backend.UploadResult, error) {
	if s.uploadFn == nil {
		return nil, errors.New("unexpected Upload call")
	}
	return s.uploadFn(ctx, filename, data)
}

func (s *stubBackend) Chat(ctx context.Context, req backend.ChatRequest) (*backend.ChatReply, error) {
	if s.chatFn == nil {
		return nil, errors.New("unexpected Chat call")
	}
	return s.chatFn(ctx, req)
}

func (s *stubBackend) Report(ctx context.Context) (*backend.ReportResult, error) {
	if s.reportFn == nil {
		return nil, errors.New("unexpected Report call")
	}
	return s.reportFn(ctx)
}

// testSession builds an orchestrator wired to a real SQLite store and a stub
// agent. Good enough for HTTP handler tests.
func testSession(t *testing.T, bc backend.Client) *session.Orchestrator {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := sqliteStore.New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return session.New(session.Config{
		SessionID:  "http-test",
		RetryDelay: time.Millisecond,
	}, bc, st)
}

func uploadBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	io.WriteString(part, content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) model.Snapshot {
	t.Helper()
	var snap model.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	return snap
}

func uploadDataset(t *testing.T, h *Handler) model.Snapshot {
	t.Helper()
	body, ctype := uploadBody(t, "people.csv", "id,name\n1,ada\n")
	req := httptest.NewRequest(http.MethodPost, "/api/session/upload", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	return decodeSnapshot(t, w)
}

func okUploadStub() *stubBackend {
	return &stubBackend{
		uploadFn: func(ctx context.Context, filename string, data io.Reader) (*backend.UploadResult, error) {
			return &backend.UploadResult{
				Filename:    filename,
				RowCount:    2,
				ColumnCount: 2,
				ColumnNames: []string{"id", "name"},
			}, nil
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := New(testSession(t, &stubBackend{}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("expected 'ok', got %q", w.Body.String())
	}
}

func TestGetSessionEmpty(t *testing.T) {
	h := New(testSession(t, &stubBackend{}))

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	snap := decodeSnapshot(t, w)
	if len(snap.Turns) != 0 || snap.Busy || snap.DatasetReady {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
	if snap.Mode != model.ModePlanning {
		t.Fatalf("expected planning mode, got %q", snap.Mode)
	}
}

func TestUploadEndpoint(t *testing.T) {
	h := New(testSession(t, okUploadStub()))

	snap := uploadDataset(t, h)
	if !snap.DatasetReady {
		t.Fatal("upload did not make the session ready")
	}
	if len(snap.Turns) != 3 {
		t.Fatalf("expected 3 narration turns, got %d", len(snap.Turns))
	}
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	h := New(testSession(t, &stubBackend{}))

	body, ctype := uploadBody(t, "data.parquet", "binary")
	req := httptest.NewRequest(http.MethodPost, "/api/session/upload", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	snap := decodeSnapshot(t, w)
	if snap.LastError == "" {
		t.Fatal("rejection left no error in the snapshot")
	}
}

func TestUploadMissingFileField(t *testing.T) {
	h := New(testSession(t, &stubBackend{}))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("other", "value")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/session/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSendMessageEndpoint(t *testing.T) {
	bc := okUploadStub()
	bc.chatFn = func(ctx context.Context, req backend.ChatRequest) (*backend.ChatReply, error) {
		return &backend.ChatReply{ResponseText: "Mean age is 31.", Status: backend.StatusOK}, nil
	}
	h := New(testSession(t, bc))
	uploadDataset(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/session/messages",
		strings.NewReader(`{"content":"what is the mean age?"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	snap := decodeSnapshot(t, w)
	last := snap.Turns[len(snap.Turns)-1]
	if last.Content != "Mean age is 31." {
		t.Fatalf("reply missing from snapshot: %+v", last)
	}
}

func TestSendMessageWithoutDatasetConflicts(t *testing.T) {
	h := New(testSession(t, &stubBackend{}))

	req := httptest.NewRequest(http.MethodPost, "/api/session/messages",
		strings.NewReader(`{"content":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestSendMessageValidation(t *testing.T) {
	h := New(testSession(t, &stubBackend{}))

	for name, body := range map[string]string{
		"empty body":    `{}`,
		"blank content": `{"content":"  "}`,
		"bad json":      `{`,
		"too long":      `{"content":"` + strings.Repeat("a", 10001) + `"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/session/messages", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.Router().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, w.Code)
		}
	}
}

func TestActionEndpointConfirm(t *testing.T) {
	bc := okUploadStub()
	bc.chatFn = func(ctx context.Context, req backend.ChatRequest) (*backend.ChatReply, error) {
		return &backend.ChatReply{
			ResponseText: "1. Filter rows\n2. Plot result",
			Status:       backend.StatusAwaitingConfirmation,
		}, nil
	}
	h := New(testSession(t, bc))
	uploadDataset(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/session/messages",
		strings.NewReader(`{"content":"plan something"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	snap := decodeSnapshot(t, w)

	proposal := snap.Turns[len(snap.Turns)-1]
	if len(proposal.Actions) == 0 {
		t.Fatalf("no proposal in snapshot: %+v", proposal)
	}

	bc.chatFn = func(ctx context.Context, req backend.ChatRequest) (*backend.ChatReply, error) {
		if !req.IsConfirmedPlan || req.Mode != model.ModeFast {
			t.Fatalf("confirmed dispatch flags wrong: %+v", req)
		}
		return &backend.ChatReply{ResponseText: "Executed.", Status: backend.StatusOK}, nil
	}

	body, _ := json.Marshal(actionRequest{TurnID: proposal.ID, Kind: "confirm"})
	req = httptest.NewRequest(http.MethodPost, "/api/session/actions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	snap = decodeSnapshot(t, w)
	for _, turn := range snap.Turns {
		if len(turn.Actions) > 0 {
			t.Fatal("proposal survived confirmation")
		}
	}
}

func TestActionEndpointValidation(t *testing.T) {
	h := New(testSession(t, &stubBackend{}))

	for name, body := range map[string]string{
		"missing turn_id": `{"kind":"confirm"}`,
		"unknown kind":    `{"turn_id":"t1","kind":"shrug"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/session/actions", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.Router().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, w.Code)
		}
	}
}

func TestActionEndpointUnknownTurn(t *testing.T) {
	h := New(testSession(t, okUploadStub()))
	uploadDataset(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/session/actions",
		strings.NewReader(`{"turn_id":"ghost","kind":"cancel"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRetryEndpointWithoutUserTurns(t *testing.T) {
	h := New(testSession(t, okUploadStub()))
	uploadDataset(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/session/retry", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	bc := okUploadStub()
	bc.reportFn = func(ctx context.Context) (*backend.ReportResult, error) {
		return &backend.ReportResult{ReportText: "# Report"}, nil
	}
	h := New(testSession(t, bc))
	uploadDataset(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/session/report", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	snap := decodeSnapshot(t, w)
	if snap.Turns[len(snap.Turns)-1].Content != "# Report" {
		t.Fatal("report turn missing from snapshot")
	}
}

func TestResetEndpoint(t *testing.T) {
	h := New(testSession(t, okUploadStub()))
	uploadDataset(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/session/reset", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	snap := decodeSnapshot(t, w)
	if len(snap.Turns) != 0 || snap.DatasetReady {
		t.Fatalf("reset left state: %+v", snap)
	}
}

func TestStopEndpointIsNoOp(t *testing.T) {
	h := New(testSession(t, okUploadStub()))
	before := uploadDataset(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/session/stop", nil)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	after := decodeSnapshot(t, w)
	if len(after.Turns) != len(before.Turns) || after.DatasetReady != before.DatasetReady {
		t.Fatal("stop mutated session state")
	}
}

func TestSetModeEndpoint(t *testing.T) {
	h := New(testSession(t, &stubBackend{}))

	req := httptest.NewRequest(http.MethodPut, "/api/session/mode",
		strings.NewReader(`{"mode":"fast"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if snap := decodeSnapshot(t, w); snap.Mode != model.ModeFast {
		t.Fatalf("mode not switched: %q", snap.Mode)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/session/mode",
		strings.NewReader(`{"mode":"turbo"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", w.Code)
	}
}
