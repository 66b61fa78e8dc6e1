package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// maxWebhookBody bounds webhook payloads; Stripe events are well below it.
const maxWebhookBody = 1 << 16

// maxEditBody bounds phase edit request bodies.
const maxEditBody = 1 << 20

// Handler exposes schedule endpoints over HTTP.
type Handler struct {
	service  ScheduleService
	verifier *WebhookVerifier
	metrics  *Metrics
	logger   *slog.Logger
	validate *validator.Validate
	protect  func(http.Handler) http.Handler
}

// NewHandler creates a new billing HTTP handler. verifier and metrics may be
// nil, in which case the webhook and metrics routes are not registered.
func NewHandler(service ScheduleService, verifier *WebhookVerifier, metrics *Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		verifier: verifier,
		metrics:  metrics,
		logger:   logger,
		validate: validator.New(),
	}
}

// Protect wraps every schedule route, but not the webhook or metrics routes,
// with mw. It must be called before RegisterRoutes.
func (h *Handler) Protect(mw func(http.Handler) http.Handler) {
	h.protect = mw
}

// RegisterRoutes registers billing endpoints on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, "GET /api/v1/billing/schedules/{id}", h.handleGetSchedule)
	h.handle(mux, "GET /api/v1/billing/schedules/{id}/phases", h.handleGetPhases)
	h.handle(mux, "PUT /api/v1/billing/schedules/{id}/phases", h.handleReplacePhases)
	h.handle(mux, "POST /api/v1/billing/schedules/{id}/release", h.handleRelease)
	h.handle(mux, "POST /api/v1/billing/subscriptions/{id}/schedule", h.handleFindOrCreate)
	if h.verifier != nil {
		mux.HandleFunc("POST /api/v1/billing/webhook", h.handleWebhook)
	}
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

// ---------- GET /api/v1/billing/schedules/{id} ----------

func (h *Handler) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.RetrieveSchedule(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, "retrieve schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ---------- GET /api/v1/billing/schedules/{id}/phases ----------

func (h *Handler) handleGetPhases(w http.ResponseWriter, r *http.Request) {
	phases, err := h.service.EditablePhases(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, "classify phases", err)
		return
	}
	writeJSON(w, http.StatusOK, phases)
}

// ---------- PUT /api/v1/billing/schedules/{id}/phases ----------

func (h *Handler) handleReplacePhases(w http.ResponseWriter, r *http.Request) {
	var edit DesiredEdit
	r.Body = http.MaxBytesReader(w, r.Body, maxEditBody)
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validateEdit(edit); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s, err := h.service.ReplaceEditablePhases(r.Context(), r.PathValue("id"), edit)
	if err != nil {
		h.writeError(w, "replace editable phases", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) validateEdit(edit DesiredEdit) error {
	if edit.CurrentPhase != nil {
		if err := h.validate.Struct(edit.CurrentPhase); err != nil {
			return err
		}
		if len(edit.CurrentPhase.Items) == 0 {
			return errors.New("currentPhaseUpdateParam.items must not be empty")
		}
	}
	if next, ok := edit.NextPhase.Get(); ok {
		if err := h.validate.Struct(next); err != nil {
			return err
		}
	}
	return nil
}

// ---------- POST /api/v1/billing/schedules/{id}/release ----------

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Release(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, "release schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ---------- POST /api/v1/billing/subscriptions/{id}/schedule ----------

func (h *Handler) handleFindOrCreate(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.GetSubscriptionWithSchedule(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, "retrieve subscription", err)
		return
	}
	existed := sub.Schedule != nil

	s, err := h.service.FindOrCreateSubscriptionSchedule(r.Context(), sub)
	if err != nil {
		h.writeError(w, "create schedule", err)
		return
	}
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, s)
}

// ---------- POST /api/v1/billing/webhook ----------

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	event, err := h.verifier.Verify(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "webhook processing failed"})
		return
	}
	if event.Schedule != nil {
		h.logger.Info("schedule event received",
			"event_id", event.ID,
			"type", event.Type,
			"schedule_id", event.Schedule.ID,
			"status", event.Schedule.Status,
		)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------- helpers ----------

func (h *Handler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	if h.protect != nil {
		mux.Handle(pattern, h.protect(fn))
		return
	}
	mux.Handle(pattern, fn)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrBillingDisabled):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidPhaseWindow):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrPhaseNotFound):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("billing request failed", "op", op, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to " + op})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
