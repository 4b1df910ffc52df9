package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func TestNewDBSink(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS codeck_audit_events").WillReturnResult(sqlmock.NewResult(0, 0))

		sink, err := NewDBSink(ctx, db)
		require.NoError(t, err)
		assert.NotNil(t, sink)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		sink, err := NewDBSink(ctx, nil)
		assert.Error(t, err)
		assert.Nil(t, sink)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS codeck_audit_events").WillReturnError(errors.New("table creation failed"))

		sink, err := NewDBSink(ctx, db)
		assert.Error(t, err)
		assert.Nil(t, sink)
		assert.Contains(t, err.Error(), "failed to ensure codeck_audit_events table")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBSink_Write(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		sink := &DBSink{db: db}

		mock.ExpectExec("INSERT INTO codeck_audit_events").
			WithArgs(sqlmock.AnyArg(), "session_revoked", "1.2.3.4", "s2", sqlmock.AnyArg(), []byte(`{"revokedBy":"s1"}`)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := sink.Write(ctx, Event{
			Kind:      EventSessionRevoked,
			IP:        "1.2.3.4",
			Timestamp: 1_700_000_000_000,
			SessionID: "s2",
			Metadata:  map[string]string{"revokedBy": "s1"},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		sink := &DBSink{db: db}

		mock.ExpectExec("INSERT INTO codeck_audit_events").WillReturnError(errors.New("connection reset"))

		err := sink.Write(ctx, Event{Kind: EventLoginFailure, IP: "1.2.3.4"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit event")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBSink_Search(t *testing.T) {
	ctx := context.Background()
	columns := []string{"occurred_at", "event_type", "ip_address", "session_id", "device_id", "metadata"}
	at := time.UnixMilli(1_700_000_000_000).UTC()

	t.Run("no filter", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		sink := &DBSink{db: db}

		rows := sqlmock.NewRows(columns).
			AddRow(at, "login_failure", "9.9.9.9", nil, nil, nil).
			AddRow(at.Add(time.Second), "session_revoked", "1.1.1.1", "s2", "phone", []byte(`{"revokedBy":"s1"}`))
		mock.ExpectQuery("SELECT occurred_at, event_type").WillReturnRows(rows)

		events, err := sink.Search(ctx, SearchFilter{})
		require.NoError(t, err)
		require.Len(t, events, 2)

		assert.Equal(t, EventLoginFailure, events[0].Kind)
		assert.Equal(t, int64(1_700_000_000_000), events[0].Timestamp)
		assert.Empty(t, events[0].SessionID)
		assert.Nil(t, events[0].Metadata)

		assert.Equal(t, EventSessionRevoked, events[1].Kind)
		assert.Equal(t, "s2", events[1].SessionID)
		assert.Equal(t, "phone", events[1].DeviceID)
		assert.Equal(t, "s1", events[1].Metadata["revokedBy"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("all filters", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		sink := &DBSink{db: db}

		since := at.Add(-time.Hour)
		until := at
		mock.ExpectQuery(`event_type = ANY\(\$1\) AND ip_address = \$2 AND occurred_at >= \$3 AND occurred_at <= \$4 ORDER BY occurred_at ASC, id ASC LIMIT \$5`).
			WithArgs(sqlmock.AnyArg(), "9.9.9.9", since, until, 10).
			WillReturnRows(sqlmock.NewRows(columns))

		events, err := sink.Search(ctx, SearchFilter{
			Kinds: []EventKind{EventLoginFailure},
			IP:    "9.9.9.9",
			Since: &since,
			Until: &until,
			Limit: 10,
		})
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		sink := &DBSink{db: db}

		mock.ExpectQuery("SELECT occurred_at").WillReturnError(errors.New("timeout"))

		_, err := sink.Search(ctx, SearchFilter{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to search audit events")
	})
}

func TestDBSink_SearchLatest(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	sink := &DBSink{db: db}

	at := time.UnixMilli(1_700_000_000_000).UTC()
	columns := []string{"occurred_at", "event_type", "ip_address", "session_id", "device_id", "metadata"}
	mock.ExpectQuery(`ORDER BY occurred_at DESC, id DESC LIMIT \$1`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(at.Add(2*time.Second), "logout", "1.1.1.1", "s1", nil, nil).
			AddRow(at.Add(time.Second), "login_success", "1.1.1.1", "s1", "laptop", nil))

	events, err := sink.Search(context.Background(), SearchFilter{Limit: 2, Latest: true})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventLoginSuccess, events[0].Kind, "returned oldest first")
	assert.Equal(t, EventLogout, events[1].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBSink_FlushAndClose(t *testing.T) {
	db, _ := setupMockDB(t)
	defer db.Close()
	sink := &DBSink{db: db}

	assert.NoError(t, sink.Flush(context.Background()))
	assert.NoError(t, sink.Close())
}
