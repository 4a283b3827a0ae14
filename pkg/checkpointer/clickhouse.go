package checkpointer

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/rougedevs/kanshi/pkg/clickhouse"
)

// DefaultClickHouseTable is the checkpoint table used when none is configured.
const DefaultClickHouseTable = "checkpoints"

//go:embed queries/clickhouse-create-table.sql
var createTableQuery string

//go:embed queries/clickhouse-write-checkpoint.sql
var writeCheckpointQuery string

//go:embed queries/clickhouse-read-checkpoint.sql
var readCheckpointQuery string

// ClickHouse persists the checkpoint as rows of a ReplacingMergeTree table
// keyed by checkpoint name. Every save appends a row and the newest timestamp
// wins on read, so several indexers can share one table under different names.
type ClickHouse struct {
	client   clickhouse.Client
	database string
	table    string
	name     string
	now      func() time.Time
}

var _ Checkpointer = (*ClickHouse)(nil)

// NewClickHouse creates a checkpointer storing rows for name and provisions
// the table.
func NewClickHouse(ctx context.Context, client clickhouse.Client, database, table, name string) (*ClickHouse, error) {
	if table == "" {
		table = DefaultClickHouseTable
	}
	if name == "" {
		name = DefaultPath
	}
	c := &ClickHouse{
		client:   client,
		database: database,
		table:    table,
		name:     name,
		now:      time.Now,
	}
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Initialize ensures the checkpoints table exists.
// Schema:
//   - name: String (sorting key)
//   - last_processed_block: UInt64
//   - timestamp: Int64 nanoseconds (ReplacingMergeTree version)
func (c *ClickHouse) Initialize(ctx context.Context) error {
	query := fmt.Sprintf(createTableQuery, c.database, c.table)
	if err := c.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("%w: failed to create checkpoints table: %w", ErrPersistence, err)
	}
	return nil
}

func (c *ClickHouse) Load(ctx context.Context) (uint64, bool, error) {
	var (
		block     uint64
		timestamp int64
	)
	query := fmt.Sprintf(readCheckpointQuery, c.database, c.table)
	err := c.client.Conn().
		QueryRow(ctx, query, c.name).
		Scan(&block, &timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: load %s: %w", ErrPersistence, c.name, err)
	}
	return block, true, nil
}

func (c *ClickHouse) Save(ctx context.Context, block uint64) error {
	query := fmt.Sprintf(writeCheckpointQuery, c.database, c.table)
	if err := c.client.Conn().Exec(ctx, query, c.name, block, c.now().UnixNano()); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrPersistence, c.name, err)
	}
	return nil
}
