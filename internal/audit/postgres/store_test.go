package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/snapscore/pipeline/internal/pulling"
)

func TestNewStoreWithPoolCreatesTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS response_audit").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store, err := NewStoreWithPool(context.Background(), mock)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecordResponseInsertsRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS response_audit").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store, err := NewStoreWithPool(context.Background(), mock)
	require.NoError(t, err)

	resp := pulling.FeedResponse{
		Fingerprint: "fp-1",
		Priority:    pulling.PriorityHigh,
		StatusCode:  200,
		Body:        []byte("hello"),
		Elapsed:     250 * time.Millisecond,
		ReceivedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO response_audit").
		WithArgs(resp.Fingerprint, resp.Priority.String(), resp.StatusCode, len(resp.Body),
			resp.Elapsed.Milliseconds(), resp.ReceivedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordResponse(context.Background(), resp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreWithPoolPingFailureClosesPool(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(context.DeadlineExceeded)

	_, err = NewStoreWithPool(context.Background(), mock)
	require.Error(t, err)
}
