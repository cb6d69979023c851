package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wisprnet/fleet/internal/model"
)

func strPtr(s string) *string { return &s }

// scanRouterInto fills scanRouter's dest slots from a fixture record.
func scanRouterInto(r model.Router) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*int64)) = r.ID
		*(dest[1].(*int64)) = r.TenantID
		*(dest[2].(*string)) = r.Name
		*(dest[3].(**string)) = r.IPAddress
		*(dest[4].(*string)) = r.Username
		*(dest[5].(*string)) = r.Password
		*(dest[6].(**string)) = r.APIUsername
		*(dest[7].(**string)) = r.APIPassword
		*(dest[8].(*int)) = r.APIPort
		*(dest[9].(*bool)) = r.APITLS
		*(dest[10].(**string)) = r.WGPublicKey
		*(dest[11].(**string)) = r.WGAddress
		*(dest[12].(*string)) = r.WGAllowedIPs
		*(dest[13].(**int)) = r.WinboxPort
		*(dest[14].(*bool)) = r.WinboxEnabled
		*(dest[15].(*string)) = r.Status
		*(dest[16].(**time.Time)) = r.LastSeenAt
		*(dest[17].(*float64)) = r.CPULoad
		*(dest[18].(*float64)) = r.MemoryUsed
		*(dest[19].(*int)) = r.HotspotSessions
		*(dest[20].(*int)) = r.PPPoESessions
		*(dest[21].(*time.Time)) = r.CreatedAt
		*(dest[22].(*time.Time)) = r.UpdatedAt
		return nil
	}
}

func sqlContains(substr string) any {
	return mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, substr) })
}

func TestRouterService_Create_AssignsTunnelIdentity(t *testing.T) {
	db := &mockDB{}
	svc := NewRouterService(db, zerolog.Nop(), "10.100.0.0/16", 0)
	ctx := context.Background()

	var events []RouterEvent
	svc.Subscribe(func(_ context.Context, ev RouterEvent) {
		events = append(events, ev)
	})

	db.On("QueryRow", ctx, sqlContains("INSERT INTO routers"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*int64)) = 3
			return nil
		}})
	db.On("Query", ctx, sqlContains("SELECT winbox_port"), mock.Anything).
		Return(newMockRows(func(dest ...any) error {
			*(dest[0].(*int)) = 5000
			return nil
		}), nil)
	db.On("Exec", ctx, sqlContains("UPDATE routers SET wg_address"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	router := &model.Router{TenantID: 1, Name: "branch-3", Username: "admin", Password: "pw"}
	require.NoError(t, svc.Create(ctx, router))

	// Router id 3 occupies host 4 (host 1 is the hub).
	require.NotNil(t, router.WGAddress)
	assert.Equal(t, "10.100.0.4", *router.WGAddress)
	require.NotNil(t, router.WinboxPort)
	assert.Equal(t, 5001, *router.WinboxPort)
	assert.Equal(t, "10.100.0.4/32", router.WGAllowedIPs)

	require.Len(t, events, 1)
	assert.Equal(t, RouterCreated, events[0].Kind)
	assert.Equal(t, router, events[0].New)
	db.AssertExpectations(t)
}

func TestRouterService_Create_UsesConfiguredWinboxBase(t *testing.T) {
	db := &mockDB{}
	svc := NewRouterService(db, zerolog.Nop(), "10.100.0.0/16", 9000)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlContains("INSERT INTO routers"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*int64)) = 1
			return nil
		}})
	db.On("Query", ctx, sqlContains("SELECT winbox_port"), mock.Anything).
		Return(newMockRows(), nil)
	db.On("Exec", ctx, sqlContains("UPDATE routers SET wg_address"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	router := &model.Router{TenantID: 1, Name: "branch-1", Username: "admin", Password: "pw"}
	require.NoError(t, svc.Create(ctx, router))

	require.NotNil(t, router.WinboxPort)
	assert.Equal(t, 9000, *router.WinboxPort)
}

func TestRouterService_Create_PoolExhausted(t *testing.T) {
	db := &mockDB{}
	svc := NewRouterService(db, zerolog.Nop(), "10.0.0.0/30", 0)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlContains("INSERT INTO routers"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*int64)) = 99
			return nil
		}})

	err := svc.Create(ctx, &model.Router{TenantID: 1, Name: "r", Username: "admin"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestRouterService_Update_EmitsOldAndNew(t *testing.T) {
	db := &mockDB{}
	svc := NewRouterService(db, zerolog.Nop(), "10.100.0.0/16", 0)
	ctx := context.Background()

	var events []RouterEvent
	svc.Subscribe(func(_ context.Context, ev RouterEvent) {
		events = append(events, ev)
	})

	existing := model.Router{
		ID: 5, TenantID: 1, Name: "old-name",
		WGAddress:  strPtr("10.100.0.6"),
		WinboxPort: intPtr(5004),
	}
	db.On("QueryRow", ctx, sqlContains("FROM routers WHERE id"), mock.Anything).
		Return(&mockRow{scanFunc: scanRouterInto(existing)})
	db.On("Exec", ctx, sqlContains("UPDATE routers SET name"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	updated := &model.Router{ID: 5, TenantID: 1, Name: "new-name"}
	require.NoError(t, svc.Update(ctx, updated))

	// Assigned tunnel identity survives updates untouched.
	require.NotNil(t, updated.WGAddress)
	assert.Equal(t, "10.100.0.6", *updated.WGAddress)
	require.NotNil(t, updated.WinboxPort)
	assert.Equal(t, 5004, *updated.WinboxPort)

	require.Len(t, events, 1)
	assert.Equal(t, RouterUpdated, events[0].Kind)
	assert.Equal(t, "old-name", events[0].Old.Name)
	assert.Equal(t, "new-name", events[0].New.Name)
	db.AssertExpectations(t)
}

func TestRouterService_Delete_EmitsBeforeRowDelete(t *testing.T) {
	db := &mockDB{}
	svc := NewRouterService(db, zerolog.Nop(), "10.100.0.0/16", 0)
	ctx := context.Background()

	existing := model.Router{ID: 9, TenantID: 1, Name: "gone", WGPublicKey: strPtr("pk")}
	db.On("QueryRow", ctx, sqlContains("FROM routers WHERE id"), mock.Anything).
		Return(&mockRow{scanFunc: scanRouterInto(existing)})

	var deleteOrder []string
	db.On("Exec", ctx, sqlContains("DELETE FROM routers"), mock.Anything).
		Run(func(mock.Arguments) { deleteOrder = append(deleteOrder, "row") }).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	// Both teardown subscribers must run, and run before the row goes away.
	svc.Subscribe(func(_ context.Context, ev RouterEvent) {
		if ev.Kind == RouterDeleted {
			deleteOrder = append(deleteOrder, "peer")
		}
	})
	svc.Subscribe(func(_ context.Context, ev RouterEvent) {
		if ev.Kind == RouterDeleted {
			deleteOrder = append(deleteOrder, "nas")
		}
	})

	require.NoError(t, svc.Delete(ctx, 9))
	assert.Equal(t, []string{"peer", "nas", "row"}, deleteOrder)
	db.AssertExpectations(t)
}

func TestRouterService_Delete_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewRouterService(db, zerolog.Nop(), "10.100.0.0/16", 0)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlContains("FROM routers WHERE id"), mock.Anything).
		Return(&mockRow{scanFunc: func(...any) error { return errors.New("no rows in result set") }})

	err := svc.Delete(ctx, 404)
	require.Error(t, err)
}

func TestRouterService_RecordSweepResult_Offline(t *testing.T) {
	db := &mockDB{}
	svc := NewRouterService(db, zerolog.Nop(), "10.100.0.0/16", 0)
	ctx := context.Background()

	// Offline results only flip the status; the last good resource snapshot
	// and last_seen_at stay in place.
	db.On("Exec", ctx, sqlContains("SET status"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 2 && args[0] == model.StatusOffline
	})).Return(pgconn.CommandTag{}, nil)

	err := svc.RecordSweepResult(ctx, model.SweepResult{RouterID: 2, Status: model.StatusOffline})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRouterService_RecordSweepResult_Online(t *testing.T) {
	db := &mockDB{}
	svc := NewRouterService(db, zerolog.Nop(), "10.100.0.0/16", 0)
	ctx := context.Background()

	now := time.Now()
	db.On("Exec", ctx, sqlContains("last_seen_at"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	err := svc.RecordSweepResult(ctx, model.SweepResult{
		RouterID: 2, Status: model.StatusOnline, SeenAt: &now,
		CPULoad: 12.5, MemoryUsed: 40, HotspotSessions: 3, PPPoESessions: 1,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func intPtr(n int) *int { return &n }
