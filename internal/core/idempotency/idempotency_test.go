package idempotency

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT response FROM idempotency_records").
		WithArgs("m1").
		WillReturnError(sql.ErrNoRows)

	store := New(db, time.Hour)
	_, found, err := store.Lookup(context.Background(), nil, "m1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLookupHitReturnsStoredBytes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"response"}).AddRow([]byte(`{"ok":true}`))
	mock.ExpectQuery("SELECT response FROM idempotency_records").
		WithArgs("m1").
		WillReturnRows(rows)

	store := New(db, time.Hour)
	got, found, err := store.Lookup(context.Background(), nil, "m1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `{"ok":true}`, string(got))
}

func TestStoreInsertsOnConflictDoNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO idempotency_records").
		WithArgs("m1", []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := New(db, time.Hour)
	require.NoError(t, store.Store(context.Background(), nil, "m1", []byte(`{}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}
