package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"smartmeter/internal/model"
	"smartmeter/internal/repository"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const readingColumns = `id, device_ip, value, raw, pre, error, rate, timestamp`
const userColumns = `id, username, password_hash, role, assigned_devices, created_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewPool connects to databaseURL and checks the connection before returning.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Open connects, applies the schema, and returns a ready store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	store := NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) InsertReading(ctx context.Context, reading model.Reading) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO readings (`+readingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, reading.DeviceIP, reading.Value, reading.Raw, reading.Pre, reading.Error, reading.Rate, reading.Timestamp.UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) LatestReadingPerDevice(ctx context.Context) ([]model.Reading, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (device_ip) `+readingColumns+`
		FROM readings
		ORDER BY device_ip, timestamp DESC, id
	`)
	if err != nil {
		return nil, err
	}
	return collectReadings(rows)
}

func (s *Store) LatestReading(ctx context.Context, deviceIP string) (model.Reading, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+readingColumns+`
		FROM readings
		WHERE device_ip = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`, deviceIP)
	reading, err := scanReading(row)
	if err != nil {
		return model.Reading{}, translate(err)
	}
	return reading, nil
}

func (s *Store) ReadingsBetween(ctx context.Context, deviceIP string, from, to time.Time) ([]model.Reading, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+readingColumns+`
		FROM readings
		WHERE device_ip = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC, id
	`, deviceIP, from, to)
	if err != nil {
		return nil, err
	}
	return collectReadings(rows)
}

func (s *Store) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	user.ID = uuid.NewString()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.AssignedDevices == nil {
		user.AssignedDevices = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Username, user.PasswordHash, string(user.Role), user.AssignedDevices, user.CreatedAt)
	if err != nil {
		return model.User{}, translate(err)
	}
	return user, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	user, err := scanUser(row)
	if err != nil {
		return model.User{}, translate(err)
	}
	return user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	user, err := scanUser(row)
	if err != nil {
		return model.User{}, translate(err)
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, userID string, update repository.UserUpdate) (model.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.User{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	current, err := scanUser(row)
	if err != nil {
		return model.User{}, translate(err)
	}
	next := update.Apply(current)
	_, err = tx.Exec(ctx, `
		UPDATE users
		SET username = $1, password_hash = $2, role = $3, assigned_devices = $4
		WHERE id = $5
	`, next.Username, next.PasswordHash, string(next.Role), next.AssignedDevices, userID)
	if err != nil {
		return model.User{}, translate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.User{}, translate(err)
	}
	return next, nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrDuplicateUsername
	}
	return err
}

func scanReading(row pgx.Row) (model.Reading, error) {
	var r model.Reading
	err := row.Scan(&r.ID, &r.DeviceIP, &r.Value, &r.Raw, &r.Pre, &r.Error, &r.Rate, &r.Timestamp)
	r.Timestamp = r.Timestamp.UTC()
	return r, err
}

func collectReadings(rows pgx.Rows) ([]model.Reading, error) {
	defer rows.Close()
	readings := []model.Reading{}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

func scanUser(row pgx.Row) (model.User, error) {
	var (
		user model.User
		role string
	)
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &role, &user.AssignedDevices, &user.CreatedAt)
	user.Role = model.Role(role)
	if user.AssignedDevices == nil {
		user.AssignedDevices = []string{}
	}
	return user, err
}
