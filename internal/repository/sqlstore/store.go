// Package sqlstore keeps readings and users in a SQLite file through gorm.
package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"smartmeter/internal/model"
	"smartmeter/internal/repository"
)

type readingRow struct {
	ID          string   `gorm:"primaryKey;size:36"`
	DeviceIP    string   `gorm:"column:device_ip;not null;index:idx_readings_device_ts,priority:1"`
	Value       float64  `gorm:"not null"`
	Raw         *float64
	Pre         *float64
	Error       *string
	Rate        *float64
	TimestampNS int64 `gorm:"column:timestamp_ns;not null;index:idx_readings_device_ts,priority:2"`
}

func (readingRow) TableName() string { return "readings" }

type userRow struct {
	ID              string   `gorm:"primaryKey;size:36"`
	Username        string   `gorm:"uniqueIndex;not null"`
	PasswordHash    string   `gorm:"not null"`
	Role            string   `gorm:"not null"`
	AssignedDevices []string `gorm:"serializer:json"`
	CreatedAt       time.Time
}

func (userRow) TableName() string { return "users" }

type Store struct {
	orm *gorm.DB
}

// Open opens (creating if needed) the SQLite file at path and migrates the schema.
func Open(path string) (*Store, error) {
	orm, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := orm.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; a single connection avoids "database is locked" under concurrent requests.
	sqlDB.SetMaxOpenConns(1)
	if err := orm.AutoMigrate(&readingRow{}, &userRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Store{orm: orm}, nil
}

func (s *Store) Close(_ context.Context) error {
	sqlDB, err := s.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) InsertReading(ctx context.Context, reading model.Reading) (string, error) {
	row := toReadingRow(reading)
	row.ID = uuid.NewString()
	if err := s.orm.WithContext(ctx).Create(&row).Error; err != nil {
		return "", err
	}
	return row.ID, nil
}

func (s *Store) LatestReadingPerDevice(ctx context.Context) ([]model.Reading, error) {
	var rows []readingRow
	err := s.orm.WithContext(ctx).Raw(`
		SELECT r.* FROM readings r
		JOIN (SELECT device_ip, MAX(timestamp_ns) AS ts FROM readings GROUP BY device_ip) latest
		  ON latest.device_ip = r.device_ip AND latest.ts = r.timestamp_ns
		ORDER BY r.device_ip, r.id
	`).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Reading, 0, len(rows))
	for _, row := range rows {
		// Two readings sharing the newest timestamp: keep the first.
		if len(out) > 0 && out[len(out)-1].DeviceIP == row.DeviceIP {
			continue
		}
		out = append(out, row.toModel())
	}
	return out, nil
}

func (s *Store) LatestReading(ctx context.Context, deviceIP string) (model.Reading, error) {
	var row readingRow
	err := s.orm.WithContext(ctx).
		Where("device_ip = ?", deviceIP).
		Order("timestamp_ns DESC").
		Take(&row).Error
	if err != nil {
		return model.Reading{}, translate(err)
	}
	return row.toModel(), nil
}

func (s *Store) ReadingsBetween(ctx context.Context, deviceIP string, from, to time.Time) ([]model.Reading, error) {
	var rows []readingRow
	err := s.orm.WithContext(ctx).
		Where("device_ip = ? AND timestamp_ns >= ? AND timestamp_ns < ?", deviceIP, from.UnixNano(), to.UnixNano()).
		Order("timestamp_ns ASC, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Reading, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	row := toUserRow(user)
	row.ID = uuid.NewString()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := s.orm.WithContext(ctx).Create(&row).Error; err != nil {
		return model.User{}, translate(err)
	}
	return row.toModel(), nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	var row userRow
	if err := s.orm.WithContext(ctx).Where("id = ?", userID).Take(&row).Error; err != nil {
		return model.User{}, translate(err)
	}
	return row.toModel(), nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	var row userRow
	if err := s.orm.WithContext(ctx).Where("username = ?", username).Take(&row).Error; err != nil {
		return model.User{}, translate(err)
	}
	return row.toModel(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := s.orm.WithContext(ctx).Order("username").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, userID string, update repository.UserUpdate) (model.User, error) {
	var updated model.User
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row userRow
		if err := tx.Where("id = ?", userID).Take(&row).Error; err != nil {
			return err
		}
		next := toUserRow(update.Apply(row.toModel()))
		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		updated = next.toModel()
		return nil
	})
	if err != nil {
		return model.User{}, translate(err)
	}
	return updated, nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) (bool, error) {
	result := s.orm.WithContext(ctx).Where("id = ?", userID).Delete(&userRow{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return repository.ErrDuplicateUsername
	default:
		return err
	}
}

func toReadingRow(r model.Reading) readingRow {
	return readingRow{
		ID:          r.ID,
		DeviceIP:    r.DeviceIP,
		Value:       r.Value,
		Raw:         r.Raw,
		Pre:         r.Pre,
		Error:       r.Error,
		Rate:        r.Rate,
		TimestampNS: r.Timestamp.UnixNano(),
	}
}

func (r readingRow) toModel() model.Reading {
	return model.Reading{
		ID:        r.ID,
		DeviceIP:  r.DeviceIP,
		Value:     r.Value,
		Raw:       r.Raw,
		Pre:       r.Pre,
		Error:     r.Error,
		Rate:      r.Rate,
		Timestamp: time.Unix(0, r.TimestampNS).UTC(),
	}
}

func toUserRow(u model.User) userRow {
	devices := u.AssignedDevices
	if devices == nil {
		devices = []string{}
	}
	return userRow{
		ID:              u.ID,
		Username:        u.Username,
		PasswordHash:    u.PasswordHash,
		Role:            string(u.Role),
		AssignedDevices: devices,
		CreatedAt:       u.CreatedAt,
	}
}

func (r userRow) toModel() model.User {
	devices := r.AssignedDevices
	if devices == nil {
		devices = []string{}
	}
	return model.User{
		ID:              r.ID,
		Username:        r.Username,
		PasswordHash:    r.PasswordHash,
		Role:            model.Role(r.Role),
		AssignedDevices: devices,
		CreatedAt:       r.CreatedAt,
	}
}
