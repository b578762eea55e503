// Package archive appends every stored reading to a ClickHouse table for long-range analysis.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"smartmeter/internal/model"
)

type Options struct {
	Addresses []string
	Database  string
	Username  string
	Password  string
}

type row struct {
	DeviceIP  string
	Value     float64
	Raw       *float64
	Pre       *float64
	Rate      *float64
	Error     *string
	Timestamp time.Time
}

type ClickHouse struct {
	conn   clickhouse.Conn
	logger *zap.Logger
}

func Open(ctx context.Context, logger *zap.Logger, opts Options) (*ClickHouse, error) {
	logger = logger.Named("archive")
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: opts.Addresses,
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, err
	}
	v, err := conn.ServerVersion()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("connected to clickhouse server", zap.String("version", v.Version.String()), zap.Uint64("revision", v.Revision))
	if err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS meter_readings (
	DeviceIP String,
	Value Float64,
	Raw Nullable(Float64),
	Pre Nullable(Float64),
	Rate Nullable(Float64),
	Error Nullable(String),
	Timestamp DateTime64(3, 'UTC')
)
ENGINE = MergeTree
PRIMARY KEY (DeviceIP, Timestamp)
`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create archive table: %w", err)
	}
	return &ClickHouse{conn: conn, logger: logger}, nil
}

func (c *ClickHouse) Record(ctx context.Context, reading model.Reading) error {
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO meter_readings")
	if err != nil {
		return fmt.Errorf("prepare archive batch: %w", err)
	}
	r := toRow(reading)
	if err := batch.AppendStruct(&r); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("append archive row: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send archive batch: %w", err)
	}
	return nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}

func toRow(reading model.Reading) row {
	return row{
		DeviceIP:  reading.DeviceIP,
		Value:     reading.Value,
		Raw:       reading.Raw,
		Pre:       reading.Pre,
		Rate:      reading.Rate,
		Error:     reading.Error,
		Timestamp: reading.Timestamp.UTC(),
	}
}
