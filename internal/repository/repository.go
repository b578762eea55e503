// Package repository defines the persistence contract shared by the mongo, postgres and sqlite stores.
package repository

import (
	"context"
	"errors"
	"time"

	"smartmeter/internal/model"
)

var (
	ErrNotFound          = errors.New("not_found")
	ErrDuplicateUsername = errors.New("duplicate_username")
)

type ReadingStore interface {
	InsertReading(ctx context.Context, reading model.Reading) (string, error)
	// LatestReadingPerDevice returns the newest reading of every device, ordered by device IP.
	LatestReadingPerDevice(ctx context.Context) ([]model.Reading, error)
	LatestReading(ctx context.Context, deviceIP string) (model.Reading, error)
	// ReadingsBetween returns readings with from <= timestamp < to in ascending timestamp order.
	ReadingsBetween(ctx context.Context, deviceIP string, from, to time.Time) ([]model.Reading, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user model.User) (model.User, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, userID string, update UserUpdate) (model.User, error)
	DeleteUser(ctx context.Context, userID string) (bool, error)
}

type Store interface {
	ReadingStore
	UserStore
	Close(ctx context.Context) error
}

// UserUpdate holds the fields to change; nil fields are left untouched.
type UserUpdate struct {
	Username        *string
	PasswordHash    *string
	Role            *model.Role
	AssignedDevices *[]string
}

func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.PasswordHash == nil && u.Role == nil && u.AssignedDevices == nil
}

// Apply returns user with the update's fields applied.
func (u UserUpdate) Apply(user model.User) model.User {
	if u.Username != nil {
		user.Username = *u.Username
	}
	if u.PasswordHash != nil {
		user.PasswordHash = *u.PasswordHash
	}
	if u.Role != nil {
		user.Role = *u.Role
	}
	if u.AssignedDevices != nil {
		user.AssignedDevices = append([]string{}, (*u.AssignedDevices)...)
	}
	return user
}
