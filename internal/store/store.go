package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/aviatools/unipix-etl/internal/etl"
	"github.com/aviatools/unipix-etl/internal/report"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Run records one drain of the report API.
type Run struct {
	ID          uuid.UUID
	PeriodStart string
	PeriodEnd   string
	Pages       int
	Reason      string
	FetchedAt   time.Time
}

// NewRun stamps a fresh run for the given window and fetch outcome.
func NewRun(rng report.DateRange, result *report.Result) Run {
	return Run{
		ID:          uuid.New(),
		PeriodStart: rng.StartISO,
		PeriodEnd:   rng.EndISO,
		Pages:       result.Pages,
		Reason:      result.Reason.String(),
		FetchedAt:   time.Now().UTC(),
	}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS report_runs (
        id UUID PRIMARY KEY,
        period_start TEXT NOT NULL,
        period_end TEXT NOT NULL,
        pages INT NOT NULL,
        reason TEXT NOT NULL,
        record_count INT NOT NULL,
        fetched_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS report_records (
        id BIGSERIAL PRIMARY KEY,
        run_id UUID NOT NULL REFERENCES report_runs(id) ON DELETE CASCADE,
        payload JSONB NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS etl_rows (
        id BIGSERIAL PRIMARY KEY,
        kind TEXT NOT NULL,
        source_file TEXT NOT NULL,
        payload JSONB NOT NULL,
        processed_at TIMESTAMPTZ NOT NULL
    );`,
}

const sqlInsertRun = `
    INSERT INTO report_runs (id, period_start, period_end, pages, reason, record_count, fetched_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7);
`

// Store provides the PostgreSQL persistence layer for fetched reports and
// ingested tables.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the warehouse tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// SaveRun persists one drain of the report API: the run row plus every
// record as JSONB, all in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run, records []report.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlInsertRun,
		run.ID, run.PeriodStart, run.PeriodEnd,
		run.Pages, run.Reason, len(records), run.FetchedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(records) > 0 {
		rows := make([][]interface{}, len(records))
		for i, record := range records {
			payload, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("failed to encode record %d: %w", i, err)
			}
			rows[i] = []interface{}{run.ID, payload}
		}

		copyCount, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"report_records"},
			[]string{"run_id", "payload"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy report records: %w", err)
		}
		if int(copyCount) != len(records) {
			return fmt.Errorf("mismatch in copied record count: expected %d, got %d", len(records), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Run persisted",
		zap.String("run_id", run.ID.String()),
		zap.Int("records", len(records)))
	return nil
}

// SaveTable persists a normalized table, one JSONB row per data row keyed by
// the table's headers.
func (s *Store) SaveTable(ctx context.Context, kind etl.Kind, sourceFile string, table etl.Table, processedAt time.Time) (int64, error) {
	if len(table.Rows) == 0 {
		return 0, nil
	}

	rows := make([][]interface{}, len(table.Rows))
	for i, row := range table.Rows {
		payload := make(map[string]string, len(table.Headers))
		for j, header := range table.Headers {
			if j < len(row) {
				payload[header] = row[j]
			}
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		rows[i] = []interface{}{string(kind), sourceFile, encoded, processedAt.UTC()}
	}

	copyCount, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"etl_rows"},
		[]string{"kind", "source_file", "payload", "processed_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to copy table rows: %w", err)
	}

	s.log.Info("Table persisted",
		zap.String("kind", string(kind)),
		zap.String("source", sourceFile),
		zap.Int64("rows", copyCount))
	return copyCount, nil
}
