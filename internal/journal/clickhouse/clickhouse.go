package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/devserd/devserd/internal/event"
	"github.com/devserd/devserd/internal/journal"
)

// DefaultTable is used when no table name is configured.
const DefaultTable = "project_events"

// Sink exports lifecycle events to ClickHouse via the native protocol.
// The target table is not created automatically; a matching MergeTree
// table looks like:
//
//	CREATE TABLE project_events (
//		occurred_at DateTime64(6),
//		event String,
//		project String,
//		pid Int32,
//		status String,
//		port Int32,
//		detached Bool,
//		restarts Int32,
//		exit_code Nullable(Int32),
//		exit_signal Nullable(String),
//		forced Bool,
//		error Nullable(String)
//	) ENGINE = MergeTree() ORDER BY (occurred_at, project)
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr ("host:port") with the default database and
// credentials and verifies the connection.
func New(addr, table string) (*Sink, error) {
	if table == "" {
		table = DefaultTable
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Sink{conn: conn, table: table}, nil
}

func (s *Sink) Send(ctx context.Context, e event.Event) error {
	r := journal.RowFromEvent(e)
	exitCode := interface{}(nil)
	if r.ExitCode != nil {
		exitCode = int32(*r.ExitCode)
	}
	exitSignal := interface{}(nil)
	if r.ExitSignal != "" {
		exitSignal = r.ExitSignal
	}
	errMsg := interface{}(nil)
	if r.Error != "" {
		errMsg = r.Error
	}
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, event, project, pid, status, port, detached, restarts, exit_code, exit_signal, forced, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query,
		r.OccurredAt,
		r.Event,
		r.Project,
		int32(r.PID),
		r.Status,
		int32(r.Port),
		r.Detached,
		int32(r.Restarts),
		exitCode,
		exitSignal,
		r.Forced,
		errMsg,
	); err != nil {
		return fmt.Errorf("insert event into clickhouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
