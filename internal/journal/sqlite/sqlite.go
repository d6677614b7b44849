package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/devserd/devserd/internal/event"
	"github.com/devserd/devserd/internal/journal"
)

// Sink appends lifecycle events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New opens the database and creates the schema if missing.
// DSN forms:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" or ":memory:" without the prefix
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty sqlite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS project_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TIMESTAMP NOT NULL,
			event TEXT NOT NULL,
			project TEXT NOT NULL,
			pid INTEGER NOT NULL,
			status TEXT NOT NULL,
			port INTEGER NOT NULL,
			detached BOOLEAN NOT NULL,
			restarts INTEGER NOT NULL,
			exit_code INTEGER NULL,
			exit_signal TEXT NULL,
			forced BOOLEAN NOT NULL,
			error TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_project_events_project ON project_events(project);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e event.Event) error {
	r := journal.RowFromEvent(e)
	exitCode := interface{}(nil)
	if r.ExitCode != nil {
		exitCode = *r.ExitCode
	}
	exitSignal := interface{}(nil)
	if r.ExitSignal != "" {
		exitSignal = r.ExitSignal
	}
	errMsg := interface{}(nil)
	if r.Error != "" {
		errMsg = r.Error
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_events(occurred_at, event, project, pid, status, port, detached, restarts, exit_code, exit_signal, forced, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		r.OccurredAt, r.Event, r.Project, r.PID, r.Status, r.Port, r.Detached, r.Restarts, exitCode, exitSignal, r.Forced, errMsg)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
