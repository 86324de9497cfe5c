// Package httpapi provides the HTTP API handler for DataWizard.
// It delegates all business logic to the session orchestrator.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wizardhq/datawizard/model"
	"github.com/wizardhq/datawizard/session"
)

// Handler provides the HTTP API for DataWizard.
type Handler struct {
	sess   *session.Orchestrator
	router chi.Router
}

// New creates a new HTTP API handler.
func New(sess *session.Orchestrator) *Handler {
	h := &Handler{sess: sess}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Put("/mode", h.handleSetMode)
		r.Post("/reset", h.handleReset)
		r.Post("/stop", h.handleStop)

		// Dispatching routes block for the duration of the agent call;
		// analysis turns can take minutes, so the timeout is generous.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Minute))
			r.Post("/upload", h.handleUpload)
			r.Post("/messages", h.handleSendMessage)
			r.Post("/actions", h.handleAction)
			r.Post("/retry", h.handleRetry)
			r.Post("/report", h.handleReport)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type sendMessageRequest struct {
	Content string `json:"content"`
}

type actionRequest struct {
	TurnID string `json:"turn_id"`
	Kind   string `json:"kind"`
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Snapshot())
}

// handleUpload accepts a multipart dataset upload under the "file" field.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 50<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	h.respondDispatch(w, h.sess.UploadDataset(r.Context(), header.Filename, file))
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len([]rune(req.Content)) > 10000 {
		writeError(w, http.StatusBadRequest, "content exceeds 10000 characters")
		return
	}

	h.respondDispatch(w, h.sess.SendMessage(r.Context(), req.Content))
}

// handleAction dispatches a plan-proposal button press by its serialized
// effect: the action kind plus the ID of the turn carrying it.
func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TurnID == "" {
		writeError(w, http.StatusBadRequest, "turn_id is required")
		return
	}

	switch model.ActionKind(req.Kind) {
	case model.ActionConfirm:
		h.respondDispatch(w, h.sess.ConfirmPlan(r.Context(), req.TurnID))
	case model.ActionCancel:
		h.respondDispatch(w, h.sess.CancelPlan(req.TurnID))
	default:
		writeError(w, http.StatusBadRequest, "kind must be 'confirm' or 'cancel'")
	}
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	h.respondDispatch(w, h.sess.RetryLastTurn(r.Context()))
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	h.respondDispatch(w, h.sess.GenerateReport(r.Context()))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.sess.Reset()
	writeJSON(w, http.StatusOK, h.sess.Snapshot())
}

// handleStop acknowledges the stop affordance. In-flight agent requests
// cannot be aborted; the session answers with its current state.
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	h.sess.Stop()
	writeJSON(w, http.StatusOK, h.sess.Snapshot())
}

func (h *Handler) handleSetMode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !model.ValidMode(model.Mode(req.Mode)) {
		writeError(w, http.StatusBadRequest, "mode must be 'planning' or 'fast'")
		return
	}

	h.sess.SetMode(model.Mode(req.Mode))
	writeJSON(w, http.StatusOK, h.sess.Snapshot())
}

// respondDispatch maps the orchestrator's dispatch outcome onto HTTP: a
// debounced no-op is a conflict, everything else answers with the snapshot
// (failures surface through the snapshot's last_error, not a status code).
func (h *Handler) respondDispatch(w http.ResponseWriter, dispatched bool) {
	status := http.StatusOK
	if !dispatched {
		status = http.StatusConflict
	}
	writeJSON(w, status, h.sess.Snapshot())
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
