package jobrunner

import (
	"context"
	"errors"

	"reminder-engine/internal/models"
	"reminder-engine/internal/reminders/render"
	"reminder-engine/internal/store"
)

// nameCache memoises user display names for the duration of one run.
type nameCache struct {
	users UserDirectory
	names map[string]string
}

func newNameCache(users UserDirectory) *nameCache {
	return &nameCache{users: users, names: make(map[string]string)}
}

func (c *nameCache) name(ctx context.Context, userID string) (string, error) {
	if userID == "" || c.users == nil {
		return "", nil
	}
	if n, ok := c.names[userID]; ok {
		return n, nil
	}
	u, err := c.users.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.names[userID] = ""
		return "", nil
	}
	if err != nil {
		return "", err
	}
	c.names[userID] = u.FullName
	return u.FullName, nil
}

func (c *nameCache) parties(ctx context.Context, rule models.ReminderRule, entity models.Entity) (render.Parties, error) {
	tenant, err := c.name(ctx, entity.TenantUserID)
	if err != nil {
		return render.Parties{}, err
	}
	landlordID := entity.LandlordID
	if landlordID == "" {
		landlordID = rule.LandlordID
	}
	landlord, err := c.name(ctx, landlordID)
	if err != nil {
		return render.Parties{}, err
	}
	return render.Parties{TenantName: tenant, LandlordName: landlord}, nil
}
