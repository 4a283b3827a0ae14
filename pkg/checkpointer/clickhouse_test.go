package checkpointer

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rougedevs/kanshi/pkg/clickhouse"
	"github.com/rougedevs/kanshi/pkg/clickhouse/testutils"
)

func queryContains(sub string) any {
	return mock.MatchedBy(func(q string) bool { return strings.Contains(q, sub) })
}

func newClickHouse(t *testing.T, conn *testutils.MockConn) *ClickHouse {
	t.Helper()
	conn.On("Exec", mock.Anything, queryContains("CREATE TABLE IF NOT EXISTS kanshi.checkpoints")).Return(nil).Once()

	c, err := NewClickHouse(t.Context(), clickhouse.NewFromConn(conn, zaptest.NewLogger(t).Sugar()), "kanshi", "", "mainnet:0x1")
	require.NoError(t, err)
	return c
}

func TestClickHouse_Save(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	c := newClickHouse(t, conn)
	c.now = func() time.Time { return time.Unix(1700000000, 5) }

	conn.On("Exec", mock.Anything,
		"INSERT INTO kanshi.checkpoints (name, last_processed_block, timestamp) VALUES (?, ?, ?)\n",
		"mainnet:0x1", uint64(123), int64(1700000000000000005),
	).Return(nil)

	require.NoError(t, c.Save(t.Context(), 123))
	conn.AssertExpectations(t)
}

func TestClickHouse_SaveError(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	c := newClickHouse(t, conn)

	execErr := errors.New("exec failed")
	conn.On("Exec", mock.Anything, queryContains("INSERT INTO"), mock.Anything, mock.Anything, mock.Anything).Return(execErr)

	err := c.Save(t.Context(), 1)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, execErr)
	conn.AssertExpectations(t)
}

func TestClickHouse_Load(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	c := newClickHouse(t, conn)

	conn.On("QueryRow", mock.Anything,
		"SELECT last_processed_block, timestamp FROM kanshi.checkpoints WHERE name = ? ORDER BY timestamp DESC LIMIT 1\n",
		"mainnet:0x1",
	).Return(testutils.Row{Values: []any{uint64(777), int64(1700000000)}})

	block, ok, err := c.Load(t.Context())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(777), block)
	conn.AssertExpectations(t)
}

func TestClickHouse_LoadMissing(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	c := newClickHouse(t, conn)

	conn.On("QueryRow", mock.Anything, queryContains("SELECT"), "mainnet:0x1").
		Return(testutils.Row{Fail: sql.ErrNoRows})

	block, ok, err := c.Load(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, block)
}

func TestClickHouse_LoadError(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	c := newClickHouse(t, conn)

	scanErr := errors.New("scan failed")
	conn.On("QueryRow", mock.Anything, queryContains("SELECT"), "mainnet:0x1").
		Return(testutils.Row{Fail: scanErr})

	_, _, err := c.Load(t.Context())
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, scanErr)
}

func TestClickHouse_InitializeError(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	createErr := errors.New("table creation failed")
	conn.On("Exec", mock.Anything, mock.Anything).Return(createErr)

	c, err := NewClickHouse(t.Context(), clickhouse.NewFromConn(conn, zaptest.NewLogger(t).Sugar()), "kanshi", "checkpoints", "x")
	require.Nil(t, c)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, createErr)
	conn.AssertExpectations(t)
}

func TestClickHouse_WithRetries(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	c := newClickHouse(t, conn)

	conn.On("Exec", mock.Anything, queryContains("INSERT INTO"), mock.Anything, uint64(9), mock.Anything).
		Return(errors.New("too many parts")).Once()
	conn.On("Exec", mock.Anything, queryContains("INSERT INTO"), mock.Anything, uint64(9), mock.Anything).
		Return(nil).Once()

	cfg := Config{WriteTimeout: time.Second, MaxRetries: 2, RetryBackoff: time.Millisecond, MaxRetryBackoff: time.Millisecond}
	require.NoError(t, NewRetrying(c, cfg, zaptest.NewLogger(t).Sugar()).Save(t.Context(), 9))
	conn.AssertExpectations(t)
}
