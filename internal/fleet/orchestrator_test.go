package fleet

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wisprnet/fleet/internal/core"
	"github.com/wisprnet/fleet/internal/model"
	"github.com/wisprnet/fleet/internal/routeros"
)

// fakeClient implements RouterClient without a device on the other end.
type fakeClient struct {
	mu          sync.Mutex
	online      bool
	resource    routeros.SystemResource
	identity    string
	hotspot     []routeros.ActiveSession
	pppoe       []routeros.ActiveSession
	profiles    []routeros.HotspotProfile
	disconnects []string
	winboxCalls int
	closed      bool
}

func (c *fakeClient) IsOnline(context.Context) bool { return c.online }

func (c *fakeClient) SystemResource(context.Context) (routeros.SystemResource, error) {
	return c.resource, nil
}

func (c *fakeClient) Identity(context.Context) (string, error) { return c.identity, nil }

func (c *fakeClient) SetIdentity(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = name
	return nil
}

func (c *fakeClient) ActiveHotspotSessions(context.Context) ([]routeros.ActiveSession, error) {
	return c.hotspot, nil
}

func (c *fakeClient) ActivePPPoESessions(context.Context) ([]routeros.ActiveSession, error) {
	return c.pppoe, nil
}

func (c *fakeClient) EnsureHotspotProfile(_ context.Context, p routeros.HotspotProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles = append(c.profiles, p)
	return nil
}

func (c *fakeClient) EnableWinboxAccess(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.winboxCalls++
	return nil
}

func (c *fakeClient) DisconnectUser(_ context.Context, serviceType, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects = append(c.disconnects, serviceType+":"+username)
	return nil
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

func newTestServices(db *mockDB) *core.Services {
	return core.NewServices(db, zerolog.Nop(), core.Options{TunnelPool: "10.100.0.0/16"})
}

func sweepRouter(id, tenantID int64) model.Router {
	addr := "10.100.0.2"
	return model.Router{
		ID: id, TenantID: tenantID, Name: "branch",
		Username: "admin", Password: "pw",
		WGAddress: &addr, Status: model.StatusOnline,
	}
}

func TestOrchestrator_Sweep_IsolatesFailingRouter(t *testing.T) {
	db := &mockDB{}
	services := newTestServices(db)

	routers := []model.Router{sweepRouter(1, 1), sweepRouter(2, 1), sweepRouter(3, 1)}
	db.On("Query", mock.Anything, sqlContains("wg_address IS NOT NULL"), mock.Anything).
		Return(newMockRows(
			scanRouterInto(routers[0]),
			scanRouterInto(routers[1]),
			scanRouterInto(routers[2]),
		), nil)
	db.On("Query", mock.Anything, sqlContains("FROM packages"), mock.Anything).
		Return(newMockRows(), nil)

	var onlineWrites, offlineWrites int
	db.On("Exec", mock.Anything, sqlContains("last_seen_at"), mock.Anything).
		Run(func(mock.Arguments) { onlineWrites++ }).
		Return(pgconn.CommandTag{}, nil)
	db.On("Exec", mock.Anything, sqlContains("SET status"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 2 && args[0] == model.StatusOffline
	})).Run(func(mock.Arguments) { offlineWrites++ }).
		Return(pgconn.CommandTag{}, nil)

	clients := map[int64]*fakeClient{
		1: {online: true, resource: routeros.SystemResource{CPULoad: 10}},
		2: {online: false},
		3: {online: true, resource: routeros.SystemResource{CPULoad: 30}},
	}
	o := NewOrchestrator(zerolog.Nop(), services, func(r *model.Router) RouterClient {
		return clients[r.ID]
	}, 4)

	require.NoError(t, o.Sweep(context.Background()))

	// One dead router never stalls the other two.
	assert.Equal(t, 2, onlineWrites)
	assert.Equal(t, 1, offlineWrites)
	for id, c := range clients {
		assert.True(t, c.closed, "client %d not closed", id)
	}
}

func TestOrchestrator_Sweep_PushesTenantProfiles(t *testing.T) {
	db := &mockDB{}
	services := newTestServices(db)

	db.On("Query", mock.Anything, sqlContains("wg_address IS NOT NULL"), mock.Anything).
		Return(newMockRows(scanRouterInto(sweepRouter(1, 7))), nil)
	db.On("Query", mock.Anything, sqlContains("FROM packages"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 1 && args[0] == int64(7)
	})).Return(newMockRows(func(dest ...any) error {
		*(dest[0].(*int64)) = 11
		*(dest[1].(*int64)) = 7
		*(dest[2].(*string)) = "day-pass"
		*(dest[3].(*string)) = model.ServiceHotspot
		*(dest[4].(*int)) = 5
		*(dest[5].(*int)) = 20
		*(dest[6].(*int)) = 2
		*(dest[7].(*string)) = "hours"
		*(dest[8].(*int)) = 1
		*(dest[9].(*time.Time)) = time.Now()
		*(dest[10].(*time.Time)) = time.Now()
		return nil
	}), nil)
	db.On("Exec", mock.Anything, sqlContains("last_seen_at"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	client := &fakeClient{online: true, identity: "branch"}
	o := NewOrchestrator(zerolog.Nop(), services, func(*model.Router) RouterClient {
		return client
	}, 1)

	require.NoError(t, o.Sweep(context.Background()))

	require.Len(t, client.profiles, 1)
	assert.Equal(t, "5M/20M", client.profiles[0].RateLimit)
	assert.Equal(t, int64(7200), client.profiles[0].SessionTimeoutSecs)
}

func TestOrchestrator_Sweep_PushesIdentityAndWinbox(t *testing.T) {
	db := &mockDB{}
	services := newTestServices(db)

	router := sweepRouter(1, 1)
	router.Name = "new-name"
	router.WinboxEnabled = true
	db.On("Query", mock.Anything, sqlContains("wg_address IS NOT NULL"), mock.Anything).
		Return(newMockRows(scanRouterInto(router)), nil)
	db.On("Query", mock.Anything, sqlContains("FROM packages"), mock.Anything).
		Return(newMockRows(), nil)
	db.On("Exec", mock.Anything, sqlContains("last_seen_at"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	client := &fakeClient{online: true, identity: "stale-name"}
	o := NewOrchestrator(zerolog.Nop(), services, func(*model.Router) RouterClient {
		return client
	}, 1)

	require.NoError(t, o.Sweep(context.Background()))
	assert.Equal(t, "new-name", client.identity)
	assert.Equal(t, 1, client.winboxCalls)
}

func TestOrchestrator_Sweep_LogsCarrySweepID(t *testing.T) {
	db := &mockDB{}
	services := newTestServices(db)

	db.On("Query", mock.Anything, sqlContains("wg_address IS NOT NULL"), mock.Anything).
		Return(newMockRows(scanRouterInto(sweepRouter(1, 1))), nil)
	db.On("Query", mock.Anything, sqlContains("FROM packages"), mock.Anything).
		Return(newMockRows(), nil)
	// Force a per-router log line by failing the result write.
	db.On("Exec", mock.Anything, sqlContains("last_seen_at"), mock.Anything).
		Return(pgconn.CommandTag{}, assert.AnError)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	o := NewOrchestrator(logger, services, func(*model.Router) RouterClient {
		return &fakeClient{online: true}
	}, 1)

	require.NoError(t, o.Sweep(context.Background()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var sawUnitLine bool
	for _, line := range lines {
		assert.Contains(t, line, `"sweep_id"`, "line without sweep id: %s", line)
		if strings.Contains(line, "record sweep result failed") {
			sawUnitLine = true
		}
	}
	assert.True(t, sawUnitLine, "expected a per-router log line")
}

func TestOrchestrator_DisconnectExpired(t *testing.T) {
	db := &mockDB{}
	services := newTestServices(db)

	routerID := int64(5)
	now := time.Now()
	expired := now.Add(-time.Hour)
	db.On("Query", mock.Anything, sqlContains("is_online AND expires_at"), mock.Anything).
		Return(newMockRows(
			func(dest ...any) error {
				*(dest[0].(*int64)) = 21
				*(dest[1].(*int64)) = 1
				*(dest[2].(**int64)) = &routerID
				*(dest[3].(**int64)) = nil
				*(dest[4].(*string)) = "alice"
				*(dest[5].(*string)) = model.ServiceHotspot
				*(dest[6].(*bool)) = true
				*(dest[7].(**time.Time)) = &expired
				*(dest[8].(*string)) = model.StatusActive
				*(dest[9].(*time.Time)) = now
				*(dest[10].(*time.Time)) = now
				return nil
			},
			func(dest ...any) error {
				*(dest[0].(*int64)) = 22
				*(dest[1].(*int64)) = 1
				*(dest[2].(**int64)) = &routerID
				*(dest[3].(**int64)) = nil
				*(dest[4].(*string)) = "bob"
				*(dest[5].(*string)) = model.ServicePPPoE
				*(dest[6].(*bool)) = true
				*(dest[7].(**time.Time)) = &expired
				*(dest[8].(*string)) = model.StatusActive
				*(dest[9].(*time.Time)) = now
				*(dest[10].(*time.Time)) = now
				return nil
			},
		), nil)
	db.On("QueryRow", mock.Anything, sqlContains("FROM routers WHERE id"), mock.Anything).
		Return(&mockRow{scanFunc: scanRouterInto(sweepRouter(5, 1))})
	var markedOffline int
	db.On("Exec", mock.Anything, sqlContains("is_online = false"), mock.Anything).
		Run(func(mock.Arguments) { markedOffline++ }).
		Return(pgconn.CommandTag{}, nil)

	client := &fakeClient{online: true}
	o := NewOrchestrator(zerolog.Nop(), services, func(*model.Router) RouterClient {
		return client
	}, 1)

	require.NoError(t, o.DisconnectExpired(context.Background()))
	assert.Equal(t, []string{"hotspot:alice", "pppoe:bob"}, client.disconnects)
	assert.Equal(t, 2, markedOffline)
}

func TestOrchestrator_DisconnectExpired_NothingToDo(t *testing.T) {
	db := &mockDB{}
	services := newTestServices(db)

	db.On("Query", mock.Anything, sqlContains("is_online AND expires_at"), mock.Anything).
		Return(newMockRows(), nil)

	o := NewOrchestrator(zerolog.Nop(), services, func(*model.Router) RouterClient {
		t.Fatal("no client should be built")
		return nil
	}, 1)

	require.NoError(t, o.DisconnectExpired(context.Background()))
}

func TestScheduler_RunsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	runs := 0
	s := NewScheduler(zerolog.Nop(), Job{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			mu.Lock()
			runs++
			mu.Unlock()
			return nil
		},
	})
	s.Start(ctx)

	time.Sleep(40 * time.Millisecond)
	cancel()
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, runs, 1)
}

func TestScheduler_DisablesNonPositiveInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(zerolog.Nop(), Job{
		Name:     "never",
		Interval: 0,
		Run: func(context.Context) error {
			t.Fatal("disabled job must not run")
			return nil
		},
	})
	s.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	s.Wait()
}
