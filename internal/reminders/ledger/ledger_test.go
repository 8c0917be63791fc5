package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-engine/internal/models"
)

var target = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func TestAlreadyFired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("rule-1", "lease-1", "2024-07-01").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("rule-1", "lease-2", "2024-07-01").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	l := New(db)
	fired, err := l.AlreadyFired(context.Background(), "rule-1", "lease-1", target)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = l.AlreadyFired(context.Background(), "rule-1", "lease-2", target)
	require.NoError(t, err)
	assert.False(t, fired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO reminder_trigger_log`).
		WithArgs(sqlmock.AnyArg(), "rule-1", "lease-1", "2024-07-01", "notif-1", "run-1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	entry, err := New(db).Record(context.Background(), models.TriggerLogEntry{
		RuleID: "rule-1", EntityID: "lease-1", TargetEventDate: target,
		NotificationID: "notif-1", JobRunID: "run-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, created, entry.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_DuplicateIsDistinct(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO reminder_trigger_log`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: UniqueConstraint})

	_, err = New(db).Record(context.Background(), models.TriggerLogEntry{
		RuleID: "rule-1", EntityID: "lease-1", TargetEventDate: target, NotificationID: "n", JobRunID: "r",
	})
	assert.ErrorIs(t, err, ErrAlreadyFired)
}

func TestRecord_OtherErrorsAreNotDuplicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"connection lost", errors.New("driver: bad connection")},
		{"other unique constraint", &pq.Error{Code: "23505", Constraint: "reminder_trigger_log_pkey"}},
		{"foreign key", &pq.Error{Code: "23503", Constraint: "reminder_trigger_log_notification_id_fkey"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery(`INSERT INTO reminder_trigger_log`).WillReturnError(tt.err)

			_, err = New(db).Record(context.Background(), models.TriggerLogEntry{
				RuleID: "rule-1", EntityID: "lease-1", TargetEventDate: target,
			})
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrAlreadyFired)
		})
	}
}
