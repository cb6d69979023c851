package handler

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/wisprnet/fleet/internal/core"
	"github.com/wisprnet/fleet/internal/model"
	"github.com/wisprnet/fleet/internal/routeros"
)

// ClientFactory builds a device client for one router. Injected so handler
// tests can substitute a fake transport.
type ClientFactory func(router *model.Router) *routeros.Client

// statusForError maps the error taxonomy to an HTTP status: record lookups to
// 404, router configuration problems to 422, connectivity to 502.
func statusForError(err error) int {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidPool),
		errors.Is(err, core.ErrPoolExhausted),
		errors.Is(err, routeros.ErrMissingTunnelAddress),
		errors.Is(err, routeros.ErrInvalidAddress),
		errors.Is(err, routeros.ErrMissingCredentials),
		errors.Is(err, routeros.ErrInvalidDurationUnit):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
