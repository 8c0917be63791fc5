// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-engine/internal/common/config"
	"reminder-engine/internal/common/database"
	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/models"
	"reminder-engine/internal/reminders/dispatch"
	"reminder-engine/internal/reminders/jobrunner"
	"reminder-engine/internal/reminders/render"
	"reminder-engine/internal/store"
)

// The suite needs a disposable Postgres, e.g.
//
//	REMINDERS_E2E_DSN="host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
const dsnEnv = "REMINDERS_E2E_DSN"

// domainSchema stands in for the property-management tables the engine reads.
const domainSchema = `
CREATE TABLE users (
    id                 TEXT PRIMARY KEY,
    full_name          TEXT NOT NULL,
    email              TEXT,
    phone              TEXT,
    preferred_language TEXT
);
CREATE TABLE properties (
    id            TEXT PRIMARY KEY,
    landlord_id   TEXT NOT NULL,
    address_line1 TEXT,
    city          TEXT,
    unit_label    TEXT
);
CREATE TABLE leases (
    id             TEXT PRIMARY KEY,
    landlord_id    TEXT NOT NULL,
    tenant_user_id TEXT,
    property_id    TEXT REFERENCES properties (id),
    start_date     DATE NOT NULL,
    end_date       DATE NOT NULL,
    status         TEXT NOT NULL
);`

var nairobi *time.Location

func TestMain(m *testing.M) {
	var err error
	if nairobi, err = time.LoadLocation("Africa/Nairobi"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// openSchema opens a connection whose search_path is a fresh schema, dropped
// when the test ends.
func openSchema(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	admin, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { admin.Close() })

	schema := "e2e_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	_, err = admin.Exec("CREATE SCHEMA " + schema)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = admin.Exec("DROP SCHEMA " + schema + " CASCADE") })

	sep := " "
	switch {
	case strings.Contains(dsn, "://") && strings.Contains(dsn, "?"):
		sep = "&"
	case strings.Contains(dsn, "://"):
		sep = "?"
	}
	dsn += sep + "search_path=" + schema

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	_, err = database.Migrate(ctx, db)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, domainSchema)
	require.NoError(t, err)
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Reminders: config.RemindersConfig{
			EventTypes:      []string{string(models.EventLeaseEndDate)},
			Timezone:        "Africa/Nairobi",
			DefaultLanguage: "en",
			JobTimeout:      60000,
			DateFormat:      "January 02, 2006",
		},
		Dispatch: config.DispatchConfig{BatchSize: 10, Timeout: 60000},
	}
}

func seedLeaseExpiry(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO users (id, full_name, email, phone, preferred_language) VALUES
			('u-juma', 'Juma Otieno', 'juma@example.com', '+254712345678', 'sw'),
			('u-amina', 'Amina Hassan', 'amina@example.com', NULL, NULL)`,
		`INSERT INTO properties (id, landlord_id, address_line1, city, unit_label) VALUES
			('p-1', 'u-amina', '12 Ngong Road', 'Nairobi', 'B4')`,
		`INSERT INTO leases (id, landlord_id, tenant_user_id, property_id, start_date, end_date, status) VALUES
			('l-1', 'u-amina', 'u-juma', 'p-1', '2023-07-01', '2024-07-01', 'ACTIVE'),
			('l-2', 'u-amina', 'u-juma', 'p-1', '2023-07-01', '2024-07-02', 'ACTIVE'),
			('l-3', 'u-amina', 'u-juma', 'p-1', '2023-07-01', '2024-07-01', 'TERMINATED')`,
		`INSERT INTO notification_templates (id, template_type, channel, subject_by_lang, body_by_lang, required_placeholders) VALUES
			('tpl-lease-expiry', 'LEASE_EXPIRY', 'EMAIL',
			 '{"en": "Your lease ends {{event_date}}", "sw": "Mkataba wako unaisha {{event_date}}"}',
			 '{"en": "Hello {{recipient_name}}, your lease at {{property_address}} ends in {{days_remaining}} days.",
			   "sw": "Habari {{recipient_name}}, mkataba wako unaisha baada ya siku {{days_remaining}}."}',
			 ARRAY['recipient_name', 'event_date'])`,
		`INSERT INTO reminder_rules (id, landlord_id, name, event_type, offset_value, offset_unit, send_time, recipient_type, template_id) VALUES
			('r-30d', 'u-amina', 'Lease expiry 30 days', 'LEASE_END_DATE', -30, 'DAYS', '09:00', 'TENANT', 'tpl-lease-expiry')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
}

func TestLeaseExpiryReminder_EndToEnd(t *testing.T) {
	db := openSchema(t)
	seedLeaseExpiry(t, db)
	ctx := context.Background()
	cfg := testConfig()
	log := logger.NewTestLogger(t)

	runner := jobrunner.NewPostgres(db, nil, cfg, log)
	today := time.Date(2024, 6, 1, 7, 0, 0, 0, nairobi)

	sum, err := runner.RunFor(ctx, "run-0601", today)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.RulesEvaluated)
	assert.Equal(t, 1, sum.Matched)
	assert.Equal(t, 1, sum.Scheduled)
	require.Len(t, sum.NotificationIDs, 1)

	var (
		userID, status, leaseID, jobRunID string
		sendAt                            time.Time
		contextJSON                       string
	)
	err = db.QueryRow(`SELECT user_id, status, lease_id, job_run_id, scheduled_send_time, template_context::text
		FROM notifications WHERE id = $1`, sum.NotificationIDs[0]).
		Scan(&userID, &status, &leaseID, &jobRunID, &sendAt, &contextJSON)
	require.NoError(t, err)
	assert.Equal(t, "u-juma", userID)
	assert.Equal(t, "SCHEDULED", status)
	assert.Equal(t, "l-1", leaseID)
	assert.Equal(t, "run-0601", jobRunID)
	assert.True(t, sendAt.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, nairobi)), sendAt)
	assert.Contains(t, contextJSON, `"days_remaining": 30`)

	// Same day again: the trigger log already holds the entry.
	again, err := runner.RunFor(ctx, "run-0601-retry", today)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Scheduled)
	assert.Equal(t, 1, again.AlreadyFired)

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM notifications`).Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM reminder_trigger_log`).Scan(&count))
	assert.Equal(t, 1, count)

	// Dispatch at 10:00 Nairobi time.
	email := &recordingEmail{}
	d := dispatch.New(
		store.NewNotificationRepository(db),
		store.NewRuleRepository(db),
		store.NewUserRepository(db),
		render.New("en"),
		map[models.Channel]dispatch.Sender{models.ChannelEmail: dispatch.NewEmailSender(email)},
		dispatch.Options{BatchSize: 10, ClaimTimeout: time.Minute, Now: func() time.Time {
			return time.Date(2024, 6, 1, 10, 0, 0, 0, nairobi)
		}},
		log,
	)
	dsum, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dsum.Claimed)
	assert.Equal(t, 1, dsum.Sent)
	require.Len(t, email.sent, 1)
	assert.Equal(t, "juma@example.com", email.sent[0].to)
	assert.Equal(t, "Mkataba wako unaisha July 01, 2024", email.sent[0].subject)
	assert.Contains(t, email.sent[0].body, "Habari Juma Otieno")

	var externalID string
	require.NoError(t, db.QueryRow(`SELECT status, COALESCE(external_id, '') FROM notifications`).Scan(&status, &externalID))
	assert.Equal(t, "SENT", status)
	assert.Equal(t, "msg-1", externalID)
}

func TestConcurrentRuns_ScheduleOnce(t *testing.T) {
	db := openSchema(t)
	seedLeaseExpiry(t, db)
	cfg := testConfig()
	today := time.Date(2024, 6, 1, 0, 0, 0, 0, nairobi)

	const runs = 4
	var wg sync.WaitGroup
	sums := make([]*jobrunner.Summary, runs)
	errs := make([]error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := jobrunner.NewPostgres(db, nil, cfg, logger.NewNoOpLogger())
			sums[i], errs[i] = r.RunFor(context.Background(), fmt.Sprintf("run-%d", i), today)
		}(i)
	}
	wg.Wait()

	scheduled := 0
	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		scheduled += sums[i].Scheduled
		assert.Equal(t, 1, sums[i].Scheduled+sums[i].AlreadyFired+sums[i].Duplicates)
	}
	assert.Equal(t, 1, scheduled)

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM notifications`).Scan(&count))
	assert.Equal(t, 1, count)
}

type sentEmail struct {
	to, subject, body string
}

type recordingEmail struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (r *recordingEmail) SendEmail(_ context.Context, to, subject, body string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEmail{to, subject, body})
	return fmt.Sprintf("msg-%d", len(r.sent)), nil
}
