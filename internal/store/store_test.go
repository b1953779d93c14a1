package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aviatools/unipix-etl/internal/etl"
	"github.com/aviatools/unipix-etl/internal/report"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockedStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func TestNewStorePingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	store, mockPool := newMockedStore(t)

	for _, table := range []string{"report_runs", "report_records", "etl_rows"} {
		mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	store, mockPool := newMockedStore(t)

	run := Run{
		ID:          uuid.New(),
		PeriodStart: "2024-03-01T00:00:00.000Z",
		PeriodEnd:   "2024-03-31T23:59:59.000Z",
		Pages:       2,
		Reason:      "short_page",
		FetchedAt:   time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	records := []report.Record{
		{"contato": "5511", "status": "ENTREGUE"},
		{"contato": "5521", "status": "FALHA"},
	}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
		WithArgs(run.ID, run.PeriodStart, run.PeriodEnd, run.Pages, run.Reason, 2, run.FetchedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCopyFrom(pgx.Identifier{"report_records"}, []string{"run_id", "payload"}).
		WillReturnResult(2)
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, store.SaveRun(context.Background(), run, records))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRunWithoutRecords(t *testing.T) {
	store, mockPool := newMockedStore(t)

	run := Run{ID: uuid.New(), Reason: "unauthorized", FetchedAt: time.Now()}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
		WithArgs(run.ID, run.PeriodStart, run.PeriodEnd, run.Pages, run.Reason, 0, run.FetchedAt.UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, store.SaveRun(context.Background(), run, nil))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRunCopyCountMismatch(t *testing.T) {
	store, mockPool := newMockedStore(t)

	run := NewRun(
		report.DateRange{StartISO: "a", EndISO: "b"},
		&report.Result{Pages: 1, Reason: report.ReasonLastPage},
	)
	records := []report.Record{{"a": "1"}, {"b": "2"}}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
		WithArgs(run.ID, run.PeriodStart, run.PeriodEnd, run.Pages, run.Reason, 2, run.FetchedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCopyFrom(pgx.Identifier{"report_records"}, []string{"run_id", "payload"}).
		WillReturnResult(1)
	mockPool.ExpectRollback()

	err := store.SaveRun(context.Background(), run, records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveTable(t *testing.T) {
	store, mockPool := newMockedStore(t)

	table := etl.Table{
		Headers: []string{"id", "produto_nome", "data_processamento"},
		Rows: [][]string{
			{"1", "sms", "2024-03-01 10:00:00"},
			{"2", "promo", "2024-03-01 10:00:00"},
		},
	}

	mockPool.ExpectCopyFrom(pgx.Identifier{"etl_rows"}, []string{"kind", "source_file", "payload", "processed_at"}).
		WillReturnResult(2)

	count, err := store.SaveTable(context.Background(), etl.KindSales, "relatorio.csv", table, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveTableEmpty(t *testing.T) {
	store, mockPool := newMockedStore(t)

	count, err := store.SaveTable(context.Background(), etl.KindClients, "empty.csv", etl.Table{}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
