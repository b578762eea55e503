// Package repotest holds the behaviour every repository.Store backend must share.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"smartmeter/internal/model"
	"smartmeter/internal/repository"
)

// Run exercises store against the repository contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("ReadingsLatestPerDevice", func(t *testing.T) { testLatestPerDevice(t, newStore(t)) })
	t.Run("ReadingsBetween", func(t *testing.T) { testReadingsBetween(t, newStore(t)) })
	t.Run("LatestReadingNotFound", func(t *testing.T) { testLatestNotFound(t, newStore(t)) })
	t.Run("UserLifecycle", func(t *testing.T) { testUserLifecycle(t, newStore(t)) })
	t.Run("DuplicateUsername", func(t *testing.T) { testDuplicateUsername(t, newStore(t)) })
}

func float(v float64) *float64 { return &v }

func mustInsert(t *testing.T, store repository.Store, ip string, value float64, at time.Time) string {
	t.Helper()
	id, err := store.InsertReading(context.Background(), model.Reading{
		DeviceIP:  ip,
		Value:     value,
		Pre:       float(value - 1),
		Rate:      float(0.5),
		Timestamp: at,
	})
	if err != nil {
		t.Fatalf("insert reading: %v", err)
	}
	if id == "" {
		t.Fatalf("expected reading id")
	}
	return id
}

func testLatestPerDevice(t *testing.T, store repository.Store) {
	ctx := context.Background()
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	mustInsert(t, store, "10.0.0.2", 1, base)
	mustInsert(t, store, "10.0.0.2", 3, base.Add(2*time.Minute))
	mustInsert(t, store, "10.0.0.2", 2, base.Add(time.Minute))
	mustInsert(t, store, "10.0.0.1", 7, base.Add(-time.Hour))

	latest, err := store.LatestReadingPerDevice(ctx)
	if err != nil {
		t.Fatalf("latest per device: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(latest))
	}
	if latest[0].DeviceIP != "10.0.0.1" || latest[0].Value != 7 {
		t.Fatalf("unexpected first device reading: %+v", latest[0])
	}
	if latest[1].DeviceIP != "10.0.0.2" || latest[1].Value != 3 {
		t.Fatalf("expected newest reading for 10.0.0.2, got %+v", latest[1])
	}
	if !latest[1].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("unexpected timestamp %s", latest[1].Timestamp)
	}
	if latest[1].Pre == nil || *latest[1].Pre != 2 {
		t.Fatalf("expected pre to round-trip, got %v", latest[1].Pre)
	}
	if latest[1].Raw != nil || latest[1].Error != nil {
		t.Fatalf("expected absent raw/error to stay nil")
	}

	one, err := store.LatestReading(ctx, "10.0.0.2")
	if err != nil {
		t.Fatalf("latest reading: %v", err)
	}
	if one.Value != 3 {
		t.Fatalf("expected value 3, got %v", one.Value)
	}
}

func testReadingsBetween(t *testing.T, store repository.Store) {
	ctx := context.Background()
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	mustInsert(t, store, "10.0.0.3", 1, from.Add(-time.Second))
	mustInsert(t, store, "10.0.0.3", 4, from.Add(48*time.Hour))
	mustInsert(t, store, "10.0.0.3", 2, from)
	mustInsert(t, store, "10.0.0.3", 5, to)
	mustInsert(t, store, "10.0.0.4", 9, from.Add(time.Hour))

	readings, err := store.ReadingsBetween(ctx, "10.0.0.3", from, to)
	if err != nil {
		t.Fatalf("readings between: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings in window, got %d", len(readings))
	}
	if readings[0].Value != 2 || readings[1].Value != 4 {
		t.Fatalf("expected ascending order, got %v then %v", readings[0].Value, readings[1].Value)
	}
}

func testLatestNotFound(t *testing.T, store repository.Store) {
	if _, err := store.LatestReading(context.Background(), "10.9.9.9"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	latest, err := store.LatestReadingPerDevice(context.Background())
	if err != nil {
		t.Fatalf("latest per device: %v", err)
	}
	if len(latest) != 0 {
		t.Fatalf("expected no readings, got %d", len(latest))
	}
}

func testUserLifecycle(t *testing.T, store repository.Store) {
	ctx := context.Background()
	created, err := store.CreateUser(ctx, model.User{
		Username:        "meter-owner",
		PasswordHash:    "hash",
		Role:            model.RoleUser,
		AssignedDevices: []string{"10.0.0.1"},
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected user id")
	}

	byName, err := store.GetUserByUsername(ctx, "meter-owner")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if byName.ID != created.ID || byName.PasswordHash != "hash" || len(byName.AssignedDevices) != 1 {
		t.Fatalf("unexpected user: %+v", byName)
	}

	role := model.RoleAdmin
	devices := []string{"10.0.0.1", "10.0.0.2"}
	updated, err := store.UpdateUser(ctx, created.ID, repository.UserUpdate{Role: &role, AssignedDevices: &devices})
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if updated.Role != model.RoleAdmin || len(updated.AssignedDevices) != 2 || updated.Username != "meter-owner" {
		t.Fatalf("unexpected updated user: %+v", updated)
	}

	byID, err := store.GetUserByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Role != model.RoleAdmin {
		t.Fatalf("expected update to persist, got %s", byID.Role)
	}

	if _, err := store.CreateUser(ctx, model.User{Username: "another", PasswordHash: "h", Role: model.RoleUser}); err != nil {
		t.Fatalf("create second user: %v", err)
	}
	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 || users[0].Username != "another" {
		t.Fatalf("expected users ordered by username, got %+v", users)
	}
	if users[0].AssignedDevices == nil {
		t.Fatalf("expected empty device list, not nil")
	}

	deleted, err := store.DeleteUser(ctx, created.ID)
	if err != nil || !deleted {
		t.Fatalf("expected delete to succeed, got %v (%v)", deleted, err)
	}
	deleted, err = store.DeleteUser(ctx, created.ID)
	if err != nil || deleted {
		t.Fatalf("expected second delete to report missing, got %v (%v)", deleted, err)
	}
	if _, err := store.GetUserByID(ctx, created.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := store.UpdateUser(ctx, created.ID, repository.UserUpdate{Role: &role}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating deleted user, got %v", err)
	}
}

func testDuplicateUsername(t *testing.T, store repository.Store) {
	ctx := context.Background()
	first, err := store.CreateUser(ctx, model.User{Username: "dup", PasswordHash: "h", Role: model.RoleUser})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := store.CreateUser(ctx, model.User{Username: "dup", PasswordHash: "h2", Role: model.RoleUser}); !errors.Is(err, repository.ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected duplicate to create no record, got %d users", len(users))
	}

	second, err := store.CreateUser(ctx, model.User{Username: "other", PasswordHash: "h", Role: model.RoleUser})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	taken := first.Username
	if _, err := store.UpdateUser(ctx, second.ID, repository.UserUpdate{Username: &taken}); !errors.Is(err, repository.ErrDuplicateUsername) {
		t.Fatalf("expected rename onto taken username to fail, got %v", err)
	}
}
