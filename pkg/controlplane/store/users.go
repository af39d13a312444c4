package store

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/clustergate/pkg/controlplane/models"
)

// UserStore manages password backend users.
type UserStore interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (string, error)
	DeleteUser(ctx context.Context, username string) error
	UpdatePassword(ctx context.Context, username, passwordHash string) error
	SetUserEnabled(ctx context.Context, username string, enabled bool) error
	UpdateLastLogin(ctx context.Context, username string, timestamp time.Time) error
	ValidateCredentials(ctx context.Context, username, password string) (*models.User, error)
}

func (s *GORMStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

func (s *GORMStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	return listOrdered[models.User](s.db, ctx, "username ASC", 0)
}

func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) (string, error) {
	user.CreatedAt = time.Now()
	return createWithID(s.db, ctx, user, func(u *models.User, id string) { u.ID = id }, user.ID, models.ErrDuplicateUser)
}

func (s *GORMStore) DeleteUser(ctx context.Context, username string) error {
	return deleteByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound)
}

func (s *GORMStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	return s.updateUserColumn(ctx, username, "password_hash", passwordHash)
}

func (s *GORMStore) SetUserEnabled(ctx context.Context, username string, enabled bool) error {
	return s.updateUserColumn(ctx, username, "enabled", enabled)
}

func (s *GORMStore) UpdateLastLogin(ctx context.Context, username string, timestamp time.Time) error {
	return s.updateUserColumn(ctx, username, "last_login", timestamp)
}

func (s *GORMStore) updateUserColumn(ctx context.Context, username, column string, value any) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", username).
		Update(column, value)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// ValidateCredentials checks username/password. Unknown users and wrong
// passwords both yield ErrInvalidCredentials.
func (s *GORMStore) ValidateCredentials(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.Enabled {
		return nil, models.ErrUserDisabled
	}
	if !models.VerifyPassword(password, user.PasswordHash) {
		return nil, models.ErrInvalidCredentials
	}
	return user, nil
}
