package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/interactionlab/tandem/internal/admin"
	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/session"
)

// Handler serves the researcher-facing JSON read surface. Everything here
// is a read of the aggregator or the session table; nothing mutates.
type Handler struct {
	logger     *slog.Logger
	aggregator *admin.Aggregator
	manager    *session.Manager
}

func NewHandler(logger *slog.Logger, aggregator *admin.Aggregator, manager *session.Manager) *Handler {
	return &Handler{
		logger:     logger.With(slog.String("component", "http_api")),
		aggregator: aggregator,
		manager:    manager,
	}
}

// Routes mounts the read API.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/admin/sessions", h.listSessions)
	r.Get("/api/admin/sessions/{session_id}", h.getSession)
	r.Get("/api/admin/summary", h.getSummary)
	r.Get("/healthz", h.healthz)
}

func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, map[string]any{
		"sessions": h.aggregator.Sessions(),
	})
}

// sessionDetail joins the aggregator's snapshot with the live session view
// and each participant's captured console errors.
type sessionDetail struct {
	Snapshot admin.SessionSnapshot                         `json:"snapshot"`
	Live     *model.SessionView                            `json:"live,omitempty"`
	Console  map[model.SubjectID][]event.ConsoleErrorEvent `json:"console,omitempty"`
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := model.SessionID(chi.URLParam(r, "session_id"))

	snap, ok := h.aggregator.Session(id)
	if !ok {
		h.respond(w, http.StatusNotFound, map[string]any{
			"error": "unknown_session",
		})
		return
	}

	detail := sessionDetail{Snapshot: snap}
	if view, live := h.manager.View(id); live {
		detail.Live = &view
	}
	for _, subject := range snap.Participants {
		if log := h.aggregator.ConsoleLog(subject); len(log) > 0 {
			if detail.Console == nil {
				detail.Console = make(map[model.SubjectID][]event.ConsoleErrorEvent)
			}
			detail.Console[subject] = log
		}
	}
	h.respond(w, http.StatusOK, detail)
}

func (h *Handler) getSummary(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, h.aggregator.Rollup())
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) respond(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("response encode failed", slog.Any("err", err))
	}
}
