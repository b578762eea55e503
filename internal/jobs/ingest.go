package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"smartmeter/internal/device"
	"smartmeter/internal/metrics"
	"smartmeter/internal/model"
)

type Fetcher interface {
	FetchLatest(ctx context.Context) (model.Reading, error)
}

type ReadingWriter interface {
	InsertReading(ctx context.Context, reading model.Reading) (string, error)
}

// Sink receives a copy of every stored reading. Sink failures never fail a tick.
type Sink interface {
	Record(ctx context.Context, reading model.Reading) error
}

type Outcome string

const (
	OutcomeStored       Outcome = "stored"
	OutcomeUnconfigured Outcome = "skipped_unconfigured"
	OutcomeBusy         Outcome = "skipped_busy"
	OutcomeFetchFailed  Outcome = "fetch_failed"
	OutcomeInvalid      Outcome = "invalid_payload"
	OutcomeWriteFailed  Outcome = "write_failed"
)

type IngestJob struct {
	fetcher Fetcher
	writer  ReadingWriter
	sinks   []Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	busy atomic.Bool
	wg   sync.WaitGroup
}

// NewIngestJob wires a poller. A nil fetcher means no device is configured and every tick is skipped.
func NewIngestJob(fetcher Fetcher, writer ReadingWriter, logger *zap.Logger, m *metrics.Metrics, timeout time.Duration, sinks ...Sink) *IngestJob {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &IngestJob{
		fetcher: fetcher,
		writer:  writer,
		sinks:   sinks,
		logger:  logger.Named("ingest"),
		metrics: m,
		timeout: timeout,
	}
}

// Start polls every interval until ctx is cancelled. Each tick runs on its own goroutine so a slow
// device never delays the schedule; a tick that finds the previous one still running is skipped.
func (j *IngestJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	j.logger.Info("meter reading scheduled", zap.Duration("interval", interval))
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				j.logger.Info("stopping ingestion")
				return
			case <-ticker.C:
				j.wg.Add(1)
				go func() {
					defer j.wg.Done()
					j.Tick(ctx)
				}()
			}
		}
	}()
}

// Wait blocks until the scheduler and any in-flight tick have returned.
func (j *IngestJob) Wait() {
	j.wg.Wait()
}

// Tick performs one fetch-then-write cycle.
func (j *IngestJob) Tick(ctx context.Context) Outcome {
	outcome := j.tick(ctx)
	j.metrics.IngestTick(string(outcome))
	return outcome
}

func (j *IngestJob) tick(ctx context.Context) Outcome {
	if j.fetcher == nil {
		j.logger.Error("device address not configured, skipping tick")
		return OutcomeUnconfigured
	}
	if !j.busy.CompareAndSwap(false, true) {
		j.logger.Warn("previous tick still running, skipping")
		return OutcomeBusy
	}
	defer j.busy.Store(false)

	tickCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	started := time.Now()
	reading, err := j.fetcher.FetchLatest(tickCtx)
	j.metrics.ObserveFetch(time.Since(started))
	if err != nil {
		if errors.Is(err, device.ErrIncompletePayload) || errors.Is(err, device.ErrInvalidPayload) {
			j.logger.Warn("invalid payload from device", zap.Error(err))
			return OutcomeInvalid
		}
		j.logger.Error("error fetching reading from device", zap.Error(err))
		return OutcomeFetchFailed
	}

	id, err := j.writer.InsertReading(tickCtx, reading)
	if err != nil {
		j.logger.Error("error saving reading", zap.Error(err), zap.Any("reading", reading))
		return OutcomeWriteFailed
	}
	reading.ID = id
	j.logger.Info("reading saved",
		zap.String("id", id),
		zap.String("device_ip", reading.DeviceIP),
		zap.Float64("value", reading.Value),
		zap.Time("timestamp", reading.Timestamp),
	)
	for _, sink := range j.sinks {
		if err := sink.Record(tickCtx, reading); err != nil {
			j.logger.Warn("error mirroring reading", zap.String("id", id), zap.Error(err))
		}
	}
	return OutcomeStored
}
