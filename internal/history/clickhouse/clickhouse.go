package clickhouse

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/svchecks/internal/history"
)

// Config holds the connection settings of the ClickHouse sink.
type Config struct {
	Addr     string // host:port of the native protocol
	Database string
	Username string
	Password string
	Table    string
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(cfg Config) (*Sink, error) {
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "restart_history"
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", cfg.Table)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: cfg.Table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		type LowCardinality(String),
		occurred_at DateTime64(6),
		check_name String,
		process_group String,
		process_name String,
		pid UInt32,
		failed_checks Array(String),
		error Nullable(String)
	) ENGINE = MergeTree()
	ORDER BY (process_name, occurred_at)`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, check_name, process_group, process_name, pid, failed_checks, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	var errText *string
	if e.Error != "" {
		errText = &e.Error
	}
	failed := e.FailedChecks
	if failed == nil {
		failed = []string{}
	}
	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		e.Check,
		e.Process.Group,
		e.Process.Name,
		uint32(e.Process.PID),
		failed,
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}

	return nil
}
