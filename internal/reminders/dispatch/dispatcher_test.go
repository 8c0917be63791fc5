package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	mail "github.com/go-mail/mail/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/models"
	"reminder-engine/internal/reminders/render"
	"reminder-engine/internal/store"
)

var now = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

type fakeNotifications struct {
	due      []models.Notification
	claimErr error
	staleAt  time.Time
	limit    int
	updates  map[string][]store.StatusUpdate
	conflict map[string]bool
}

func (f *fakeNotifications) ClaimDue(_ context.Context, _ time.Time, staleBefore time.Time, limit int) ([]models.Notification, error) {
	f.staleAt, f.limit = staleBefore, limit
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	out := make([]models.Notification, len(f.due))
	for i, n := range f.due {
		n.Status = models.StatusPending
		out[i] = n
	}
	return out, nil
}

func (f *fakeNotifications) UpdateStatus(_ context.Context, id string, u store.StatusUpdate) error {
	if f.conflict[id] {
		return store.ErrStatusChanged
	}
	if f.updates == nil {
		f.updates = map[string][]store.StatusUpdate{}
	}
	f.updates[id] = append(f.updates[id], u)
	return nil
}

func (f *fakeNotifications) finalStatus(id string) models.NotificationStatus {
	u := f.updates[id]
	if len(u) == 0 {
		return ""
	}
	return u[len(u)-1].To
}

type fakeTemplates map[string]*models.NotificationTemplate

func (f fakeTemplates) TemplateByID(_ context.Context, id string) (*models.NotificationTemplate, error) {
	if t, ok := f[id]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

type fakeUsers struct {
	users map[string]*models.User
	err   error
}

func (f fakeUsers) UserByID(_ context.Context, id string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

type recordingTransport struct {
	sent []string
	err  error
}

func (r *recordingTransport) SendEmail(_ context.Context, to, subject, body string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.sent = append(r.sent, to+"|"+subject+"|"+body)
	return "ses-msg-1", nil
}

func (r *recordingTransport) SendSMS(_ context.Context, phone, msg string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.sent = append(r.sent, phone+"|"+msg)
	return "sns-msg-1", nil
}

func leaseTemplate() *models.NotificationTemplate {
	return &models.NotificationTemplate{
		ID:           "tpl-lease",
		TemplateType: "LEASE_EXPIRY",
		Channel:      models.ChannelEmail,
		SubjectByLang: map[string]string{
			"en": "Lease ending {{event_date}}",
			"sw": "Mkataba unaisha {{event_date}}",
		},
		BodyByLang: map[string]string{
			"en": "Hello {{recipient_name}}",
			"sw": "Habari {{recipient_name}}",
		},
		IsActive: true,
	}
}

func notification(id string, ch models.Channel, userID string) models.Notification {
	return models.Notification{
		ID:                id,
		UserID:            userID,
		Channel:           ch,
		TemplateID:        "tpl-lease",
		Status:            models.StatusScheduled,
		ScheduledSendTime: now.Add(-time.Hour),
		TemplateContext: map[string]interface{}{
			"recipient_name": "Juma",
			"event_date":     "July 01, 2024",
		},
	}
}

func newTestDispatcher(n *fakeNotifications, users fakeUsers, senders map[models.Channel]Sender) *Dispatcher {
	return New(n, fakeTemplates{"tpl-lease": leaseTemplate()}, users, render.New("en"), senders,
		Options{BatchSize: 10, ClaimTimeout: 2 * time.Minute, Now: func() time.Time { return now }},
		logger.NewNoOpLogger())
}

func TestRunOnce_SendsEmailInUserLanguage(t *testing.T) {
	ses := &recordingTransport{}
	n := &fakeNotifications{due: []models.Notification{notification("n1", models.ChannelEmail, "u1")}}
	users := fakeUsers{users: map[string]*models.User{
		"u1": {ID: "u1", FullName: "Juma", Email: "juma@example.com", PreferredLanguage: "sw"},
	}}

	d := newTestDispatcher(n, users, map[models.Channel]Sender{models.ChannelEmail: NewEmailSender(ses)})
	sum, err := d.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, sum.Claimed)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, now.Add(-2*time.Minute), n.staleAt)
	assert.Equal(t, 10, n.limit)
	require.Len(t, ses.sent, 1)
	assert.Equal(t, "juma@example.com|Mkataba unaisha July 01, 2024|Habari Juma", ses.sent[0])

	u := n.updates["n1"]
	require.Len(t, u, 1)
	assert.Equal(t, models.StatusPending, u[0].From)
	assert.Equal(t, models.StatusSent, u[0].To)
	assert.Equal(t, "ses-msg-1", u[0].ExternalID)
}

func TestRunOnce_InAppGoesToDelivered(t *testing.T) {
	n := &fakeNotifications{due: []models.Notification{notification("n1", models.ChannelInApp, "u1")}}
	users := fakeUsers{users: map[string]*models.User{"u1": {ID: "u1"}}}

	d := newTestDispatcher(n, users, map[models.Channel]Sender{models.ChannelInApp: InAppSender{}})
	sum, err := d.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, sum.Delivered)
	u := n.updates["n1"]
	require.Len(t, u, 2)
	assert.Equal(t, models.StatusSent, u[1].From)
	assert.Equal(t, models.StatusDelivered, u[1].To)
}

func TestRunOnce_InvalidAddresses(t *testing.T) {
	sms := &recordingTransport{}
	n := &fakeNotifications{due: []models.Notification{
		notification("bad-email", models.ChannelEmail, "u1"),
		notification("no-phone", models.ChannelSMS, "u2"),
		notification("gone", models.ChannelEmail, "missing"),
	}}
	users := fakeUsers{users: map[string]*models.User{
		"u1": {ID: "u1", Email: "not-an-email"},
		"u2": {ID: "u2", Email: "u2@example.com"},
	}}

	d := newTestDispatcher(n, users, map[models.Channel]Sender{
		models.ChannelEmail: NewEmailSender(&recordingTransport{}),
		models.ChannelSMS:   NewSMSSender(sms),
	})
	sum, err := d.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, sum.InvalidAddress)
	assert.Empty(t, sms.sent)
	for _, id := range []string{"bad-email", "no-phone", "gone"} {
		assert.Equal(t, models.StatusInvalidAddress, n.finalStatus(id), id)
		assert.NotEmpty(t, n.updates[id][0].ErrorMessage, id)
	}
}

func TestRunOnce_SendFailureMarksFailed(t *testing.T) {
	sms := &recordingTransport{err: errors.New("throttled")}
	n := &fakeNotifications{due: []models.Notification{notification("n1", models.ChannelSMS, "u1")}}
	users := fakeUsers{users: map[string]*models.User{"u1": {ID: "u1", Phone: "+254 712 345 678"}}}

	d := newTestDispatcher(n, users, map[models.Channel]Sender{models.ChannelSMS: NewSMSSender(sms)})
	sum, err := d.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, models.StatusFailed, n.finalStatus("n1"))
	assert.Contains(t, n.updates["n1"][0].ErrorMessage, "throttled")
}

func TestRunOnce_MissingSenderOrTemplateMarksFailed(t *testing.T) {
	noTpl := notification("no-tpl", models.ChannelEmail, "u1")
	noTpl.TemplateID = "tpl-gone"
	n := &fakeNotifications{due: []models.Notification{
		notification("no-sender", models.ChannelSMS, "u1"),
		noTpl,
	}}
	users := fakeUsers{users: map[string]*models.User{"u1": {ID: "u1", Email: "a@example.com", Phone: "+254712345678"}}}

	d := newTestDispatcher(n, users, map[models.Channel]Sender{})
	sum, err := d.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, sum.Failed)
	assert.Contains(t, n.updates["no-sender"][0].ErrorMessage, "no sender configured")
	assert.Contains(t, n.updates["no-tpl"][0].ErrorMessage, "tpl-gone")
}

func TestRunOnce_ConflictIsCountedAndSkipped(t *testing.T) {
	n := &fakeNotifications{
		due: []models.Notification{
			notification("taken", models.ChannelInApp, "u1"),
			notification("ok", models.ChannelInApp, "u1"),
		},
		conflict: map[string]bool{"taken": true},
	}
	users := fakeUsers{users: map[string]*models.User{"u1": {ID: "u1"}}}

	d := newTestDispatcher(n, users, map[models.Channel]Sender{models.ChannelInApp: InAppSender{}})
	sum, err := d.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, sum.Conflicts)
	assert.Equal(t, models.StatusDelivered, n.finalStatus("ok"))
}

func TestRunOnce_StorageErrorsAreReturned(t *testing.T) {
	n := &fakeNotifications{claimErr: errors.New("connection refused")}
	d := newTestDispatcher(n, fakeUsers{}, nil)
	_, err := d.RunOnce(context.Background())
	assert.EqualError(t, err, "connection refused")

	n = &fakeNotifications{due: []models.Notification{notification("n1", models.ChannelEmail, "u1")}}
	d = newTestDispatcher(n, fakeUsers{err: errors.New("db down")}, nil)
	_, err = d.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Empty(t, n.updates)
}

type fakeDialer struct {
	msgs []*mail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*mail.Message) error {
	f.msgs = append(f.msgs, m...)
	return f.err
}

func TestSMTPTransport(t *testing.T) {
	d := &fakeDialer{}
	tr := NewSMTPTransportWithDialer(d, "noreply@example.com")

	id, err := tr.SendEmail(context.Background(), "juma@example.com", "Lease", "Body")
	require.NoError(t, err)
	assert.Empty(t, id)
	require.Len(t, d.msgs, 1)
	assert.Equal(t, []string{"juma@example.com"}, d.msgs[0].GetHeader("To"))
	assert.Equal(t, []string{"noreply@example.com"}, d.msgs[0].GetHeader("From"))
	assert.Equal(t, []string{"Lease"}, d.msgs[0].GetHeader("Subject"))

	d.err = errors.New("535 auth failed")
	_, err = tr.SendEmail(context.Background(), "juma@example.com", "Lease", "Body")
	assert.ErrorContains(t, err, "535 auth failed")
}
