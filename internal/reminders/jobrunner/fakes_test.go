package jobrunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reminder-engine/internal/models"
	"reminder-engine/internal/reminders/ledger"
	"reminder-engine/internal/reminders/matcher"
	"reminder-engine/internal/reminders/runlock"
	"reminder-engine/internal/reminders/scheduler"
	"reminder-engine/internal/store"
)

// memStore is an in-memory stand-in for the Postgres tables the runner touches.
// Its trigger set behaves like the unique constraint.
type memStore struct {
	mu            sync.Mutex
	rules         []models.ReminderRule
	templates     map[string]*models.NotificationTemplate
	users         map[string]*models.User
	entities      []models.Entity
	triggers      map[string]models.TriggerLogEntry
	notifications map[string]scheduler.Request
	seq           int

	// failRecord simulates a storage error on the next ledger insert.
	failRecord error
	// raceOnce claims the trigger between the pre-check and the insert.
	raceOnce bool
}

func newMemStore() *memStore {
	return &memStore{
		templates:     map[string]*models.NotificationTemplate{},
		users:         map[string]*models.User{},
		triggers:      map[string]models.TriggerLogEntry{},
		notifications: map[string]scheduler.Request{},
	}
}

func key(ruleID, entityID string, d time.Time) string {
	return fmt.Sprintf("%s|%s|%s", ruleID, entityID, d.Format("2006-01-02"))
}

func (m *memStore) ActiveRules(_ context.Context, types []models.EventType) ([]models.ReminderRule, error) {
	var out []models.ReminderRule
	for _, r := range m.rules {
		if !r.IsActive {
			continue
		}
		for _, t := range types {
			if r.EventType == t {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (m *memStore) TemplateByID(_ context.Context, id string) (*models.NotificationTemplate, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (m *memStore) UserByID(_ context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) FindCandidates(_ context.Context, landlordID string, et models.EventType, target time.Time) ([]models.Entity, error) {
	if et == models.EventMaintenanceScheduledDate {
		return nil, fmt.Errorf("%w: %s", matcher.ErrUnsupportedEventType, et)
	}
	out := []models.Entity{}
	for _, e := range m.entities {
		if e.LandlordID == landlordID && e.Kind == et && e.EventDate.Equal(target) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) AlreadyFired(_ context.Context, ruleID, entityID string, d time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.triggers[key(ruleID, entityID, d)]
	return ok, nil
}

func (m *memStore) ScheduleAndRecord(_ context.Context, req scheduler.Request, trig scheduler.Trigger) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failRecord != nil {
		err := m.failRecord
		m.failRecord = nil
		return "", err
	}
	k := key(trig.RuleID, trig.EntityID, trig.TargetEventDate)
	if m.raceOnce {
		m.raceOnce = false
		m.triggers[k] = models.TriggerLogEntry{RuleID: trig.RuleID, EntityID: trig.EntityID, JobRunID: "other-run"}
	}
	if _, ok := m.triggers[k]; ok {
		return "", fmt.Errorf("record trigger: %w", ledger.ErrAlreadyFired)
	}

	m.seq++
	id := fmt.Sprintf("notif-%d", m.seq)
	m.notifications[id] = req
	m.triggers[k] = models.TriggerLogEntry{
		RuleID: trig.RuleID, EntityID: trig.EntityID, TargetEventDate: trig.TargetEventDate,
		NotificationID: id, JobRunID: req.JobRunID,
	}
	return id, nil
}

type fakeLock struct {
	err      error
	released bool
}

func (l *fakeLock) Acquire(context.Context) (runlock.ReleaseFunc, error) {
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error { l.released = true; return nil }, nil
}
