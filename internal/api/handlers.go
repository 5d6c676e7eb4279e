package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/davidahmann/liqueflow/internal/audit"
	"github.com/davidahmann/liqueflow/internal/auth"
	"github.com/davidahmann/liqueflow/internal/batch"
	"github.com/davidahmann/liqueflow/internal/engine"
	"github.com/davidahmann/liqueflow/internal/escalation"
	"github.com/davidahmann/liqueflow/internal/intake"
	"github.com/davidahmann/liqueflow/internal/ledger"
	"github.com/davidahmann/liqueflow/pkg/types"
)

type Handler struct {
	Auth    auth.Authenticator
	Service *Service
}

func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("POST /v1/instructions", h.SubmitInstruction)
	mux.HandleFunc("POST /v1/settlements", h.Settle)
	mux.HandleFunc("GET /v1/ledger", h.Ledger)
	mux.HandleFunc("GET /v1/liquidity", h.Liquidity)
	mux.HandleFunc("GET /v1/metrics", h.Metrics)
	mux.HandleFunc("GET /v1/decisions/{id}", h.Decision)
	mux.HandleFunc("GET /v1/verify/{id}", h.Verify)
	mux.HandleFunc("POST /v1/escalations/{id}/resolve", h.ResolveEscalation)
	return mux
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) SubmitInstruction(w http.ResponseWriter, r *http.Request) {
	if !h.ensureReady(w, r) {
		return
	}

	var instr types.PaymentInstruction
	if err := json.NewDecoder(r.Body).Decode(&instr); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	resp, err := h.Service.SubmitInstruction(instr)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	if !h.ensureReady(w, r) {
		return
	}

	var req SettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	settlement, err := h.Service.Settle(req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if settlement.Status == types.SettlementFailed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, settlement)
}

func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	if !h.ensureReady(w, r) {
		return
	}
	resp, err := h.Service.Ledger()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Liquidity(w http.ResponseWriter, r *http.Request) {
	if !h.ensureReady(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.Service.Liquidity())
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if !h.ensureReady(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.Service.Metrics())
}

func (h *Handler) Decision(w http.ResponseWriter, r *http.Request) {
	if !h.ensureReady(w, r) {
		return
	}
	resp, err := h.Service.Decision(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if !h.ensureReady(w, r) {
		return
	}

	artifactID := r.PathValue("id")
	err := h.Service.Verify(artifactID)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"artifact_id": artifactID,
			"valid":       false,
			"error":       err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"artifact_id": artifactID,
		"valid":       true,
	})
}

type resolveRequest struct {
	Approve bool   `json:"approve"`
	Actor   string `json:"actor"`
}

func (h *Handler) ResolveEscalation(w http.ResponseWriter, r *http.Request) {
	claims, err := h.Auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	if h.Service == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "service not configured"})
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Actor == "" {
		req.Actor = claims.Subject
	}

	rec, err := h.Service.ResolveEscalation(r.PathValue("id"), req.Approve, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"escalation_id":  rec.EscalationID,
		"instruction_id": rec.InstructionID,
		"status":         rec.Status,
	})
}

func (h *Handler) ensureReady(w http.ResponseWriter, r *http.Request) bool {
	if _, err := h.Auth.Authenticate(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return false
	}
	if h.Service == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "service not configured"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, batch.ErrDuplicateInstruction):
		return http.StatusConflict
	case errors.Is(err, intake.ErrEmptyID),
		errors.Is(err, intake.ErrNonPositiveAmount),
		errors.Is(err, intake.ErrAmountTooLarge),
		errors.Is(err, intake.ErrInvalidCurrency),
		errors.Is(err, intake.ErrInvalidPriority),
		errors.Is(err, engine.ErrInvalidInstruction),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingAccount):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, escalation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, escalation.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, audit.ErrDigestMismatch):
		return http.StatusConflict
	case errors.Is(err, ErrLedgerUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
