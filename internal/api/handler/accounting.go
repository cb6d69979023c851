package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/wisprnet/fleet/internal/api/response"
	"github.com/wisprnet/fleet/internal/core"
)

// Accounting ingests RADIUS accounting events forwarded by the freeradius
// rlm_rest hook. The payload shape varies by dialect, so decoding stays a raw
// map and normalization happens in the service.
type Accounting struct {
	svc    *core.AccountingService
	logger zerolog.Logger
}

func NewAccounting(svc *core.AccountingService, logger zerolog.Logger) *Accounting {
	return &Accounting{svc: svc, logger: logger.With().Str("component", "accounting_api").Logger()}
}

func (h *Accounting) Ingest(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		response.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	err := h.svc.Process(r.Context(), raw)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, core.ErrMissingRequiredField):
		response.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrUnknownNASAddress):
		// Not the sender's fault and not retryable; drop, don't fail the
		// freeradius hook.
		h.logger.Warn().Err(err).Msg("accounting event dropped")
		w.WriteHeader(http.StatusNoContent)
	default:
		response.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
