package core

import (
	"context"

	"github.com/wisprnet/fleet/internal/model"
)

// Router lifecycle event kinds.
const (
	RouterCreated = "created"
	RouterUpdated = "updated"
	RouterDeleted = "deleted"
)

// RouterEvent carries a lifecycle change with the old and new record so
// subscribers can diff fields. Old is nil on create, New is nil on delete.
type RouterEvent struct {
	Kind string
	Old  *model.Router
	New  *model.Router
}

// Router returns whichever record identifies the router for this event.
func (e RouterEvent) Router() *model.Router {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

// RouterSubscriber receives lifecycle events synchronously. Subscribers must
// swallow their own failures; a failed side effect never blocks the record
// mutation that triggered it.
type RouterSubscriber func(ctx context.Context, ev RouterEvent)
