// internal/store/users.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reminder-engine/internal/models"
)

// UserRepository reads users owned by the account service.
type UserRepository struct {
	db Querier
}

func NewUserRepository(db Querier) *UserRepository {
	return &UserRepository{db: db}
}

// UserByID returns ErrNotFound when the user does not exist.
func (r *UserRepository) UserByID(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	var u models.User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(preferred_language, '')
		FROM users
		WHERE id = $1`, id).Scan(&u.ID, &u.FullName, &u.Email, &u.Phone, &u.PreferredLanguage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user %s: %w", id, err)
	}
	return &u, nil
}
