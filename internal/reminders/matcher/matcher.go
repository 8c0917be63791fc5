// Package matcher finds the dated entities a rule fires for. Each event type
// has its own query strategy; all of them match the event date exactly and
// filter on a "still relevant" status.
package matcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"reminder-engine/internal/models"
	"reminder-engine/internal/reminders/offset"
	"reminder-engine/internal/store"
)

// ErrUnsupportedEventType is returned when no strategy is registered for the event type.
var ErrUnsupportedEventType = errors.New("unsupported event type")

// Strategy is the per-event-type query. Query takes the landlord id, the
// target date (YYYY-MM-DD) and the status list, and returns
// id, landlord_id, event_date, tenant_user_id, property_id, address, unit, lease_id.
type Strategy struct {
	EventType models.EventType
	Statuses  []string
	Query     string
	Links     func(id, leaseID string) models.Links
}

// Matcher dispatches FindCandidates to the strategy registered for an event type.
type Matcher struct {
	db         store.Querier
	strategies map[models.EventType]Strategy
}

// New returns a Matcher with every built-in strategy registered.
func New(db store.Querier) *Matcher {
	m := &Matcher{db: db, strategies: make(map[models.EventType]Strategy)}
	for _, s := range DefaultStrategies() {
		m.Register(s)
	}
	return m
}

// Register adds or replaces the strategy for s.EventType.
func (m *Matcher) Register(s Strategy) {
	m.strategies[s.EventType] = s
}

// Supports reports whether a strategy exists for eventType.
func (m *Matcher) Supports(eventType models.EventType) bool {
	_, ok := m.strategies[eventType]
	return ok
}

// FindCandidates returns the landlord's entities whose event date equals
// targetDate. No match is an empty slice, not an error.
func (m *Matcher) FindCandidates(ctx context.Context, landlordID string, eventType models.EventType, targetDate time.Time) ([]models.Entity, error) {
	s, ok := m.strategies[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEventType, eventType)
	}

	rows, err := m.db.QueryContext(ctx, s.Query,
		landlordID, targetDate.Format("2006-01-02"), pq.Array(s.Statuses))
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", eventType, err)
	}
	defer rows.Close()

	entities := []models.Entity{}
	for rows.Next() {
		var (
			e       models.Entity
			leaseID sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.LandlordID, &e.EventDate, &e.TenantUserID, &e.PropertyID,
			&e.PropertyAddress, &e.PropertyUnit, &leaseID,
		); err != nil {
			return nil, fmt.Errorf("scan %s candidate: %w", eventType, err)
		}
		e.Kind = eventType
		e.EventDate = offset.Date(e.EventDate)
		e.Links = s.Links(e.ID, leaseID.String)
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s candidates: %w", eventType, err)
	}
	return entities, nil
}
