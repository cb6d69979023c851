package handler

import (
	"net/http"
	"strconv"

	"github.com/wisprnet/fleet/internal/api/request"
	"github.com/wisprnet/fleet/internal/api/response"
	"github.com/wisprnet/fleet/internal/core"
)

type Session struct {
	svc *core.AccountingService
}

func NewSession(svc *core.AccountingService) *Session {
	return &Session{svc: svc}
}

func (h *Session) List(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		response.WriteError(w, http.StatusBadRequest, "missing or invalid tenant_id")
		return
	}

	sessions, err := h.svc.ListSessionsByTenant(r.Context(), tenantID, request.QueryInt(r, "limit", 100))
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, sessions)
}
