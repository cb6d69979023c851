package fleet

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/wisprnet/fleet/internal/model"
)

// mockDB implements core.DB for orchestrator tests.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

type mockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

func (m *mockRows) Next() bool {
	return m.callIndex < len(m.scanFuncs)
}

func (m *mockRows) Scan(dest ...any) error {
	if m.callIndex < len(m.scanFuncs) {
		fn := m.scanFuncs[m.callIndex]
		m.callIndex++
		return fn(dest...)
	}
	return nil
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

func sqlContains(substr string) any {
	return mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, substr) })
}

// scanRouterInto fills the router column list from a fixture record.
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
