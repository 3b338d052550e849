package ledger

import (
	"context"
	"errors"
	"slices"
	"strings"

	"finapp/internal/core"
	"finapp/internal/log"
	"finapp/internal/storage"
)

type emailIndex struct {
	UserID string `json:"userId" firestore:"userId"`
}

// CreateUser stores a profile and claims its email in the same commit.
func (c *Coordinator) CreateUser(ctx context.Context, name, email string, settings core.Settings) (core.User, error) {
	if err := core.ValidateUser(name, email, settings); err != nil {
		return core.User{}, err
	}
	if settings.TrackingMethod == "" {
		settings.TrackingMethod = core.TrackingManual
	}
	normalized := core.NormalizeEmail(email)

	var user core.User
	err := c.run(ctx, log.OpCreateUser, func(ctx context.Context, tx storage.Tx) error {
		var idx emailIndex
		err := tx.Get(ctx, storage.EmailIndexPath(normalized), &idx)
		switch {
		case err == nil:
			return core.AlreadyExists("email is already registered", nil)
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		user = core.User{
			ID:        c.newID(),
			Name:      strings.TrimSpace(name),
			Email:     normalized,
			Settings:  settings,
			CreatedAt: c.now().UTC(),
		}
		if err := tx.Create(storage.UserPath(user.ID), user); err != nil {
			return err
		}
		return tx.Create(storage.EmailIndexPath(normalized), emailIndex{UserID: user.ID})
	})
	if err != nil {
		return core.User{}, err
	}
	c.logger.DebugContext(ctx, "User created", log.FieldUserID, user.ID)
	return user, nil
}

func (c *Coordinator) GetUser(ctx context.Context, userID string) (core.User, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return core.User{}, err
	}
	var u core.User
	if err := c.store.Get(ctx, storage.UserPath(userID), &u); err != nil {
		return core.User{}, storeError(err, "user not found")
	}
	return u, nil
}

// RegisterDevice adds a push token to the user's profile. Known tokens are ignored.
func (c *Coordinator) RegisterDevice(ctx context.Context, userID, token string) (core.User, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return core.User{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 4096 {
		return core.User{}, core.Invalid("device token is required", nil)
	}

	var user core.User
	err := c.run(ctx, log.OpRegisterDevice, func(ctx context.Context, tx storage.Tx) error {
		user = core.User{}
		if err := tx.Get(ctx, storage.UserPath(userID), &user); err != nil {
			return storeError(err, "user not found")
		}
		if slices.Contains(user.DeviceTokens, token) {
			return nil
		}
		user.DeviceTokens = append(user.DeviceTokens, token)
		return tx.Set(storage.UserPath(userID), user)
	})
	if err != nil {
		return core.User{}, err
	}
	return user, nil
}

// RemoveDevice drops a push token, typically one the push service rejected.
func (c *Coordinator) RemoveDevice(ctx context.Context, userID, token string) error {
	if err := core.ValidateUserID(userID); err != nil {
		return err
	}
	return c.run(ctx, log.OpRemoveDevice, func(ctx context.Context, tx storage.Tx) error {
		var user core.User
		if err := tx.Get(ctx, storage.UserPath(userID), &user); err != nil {
			return storeError(err, "user not found")
		}
		i := slices.Index(user.DeviceTokens, token)
		if i < 0 {
			return nil
		}
		user.DeviceTokens = slices.Delete(user.DeviceTokens, i, i+1)
		return tx.Set(storage.UserPath(userID), user)
	})
}
