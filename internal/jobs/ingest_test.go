package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"smartmeter/internal/device"
	"smartmeter/internal/metrics"
	"smartmeter/internal/model"
)

type fetchFunc func(ctx context.Context) (model.Reading, error)

func (f fetchFunc) FetchLatest(ctx context.Context) (model.Reading, error) { return f(ctx) }

type memoryWriter struct {
	mu       sync.Mutex
	readings []model.Reading
	err      error
}

func (w *memoryWriter) InsertReading(_ context.Context, reading model.Reading) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return "", w.err
	}
	w.readings = append(w.readings, reading)
	return "id-1", nil
}

func (w *memoryWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.readings)
}

type recordingSink struct {
	got []model.Reading
	err error
}

func (s *recordingSink) Record(_ context.Context, reading model.Reading) error {
	s.got = append(s.got, reading)
	return s.err
}

func sampleReading() model.Reading {
	return model.Reading{DeviceIP: "10.0.0.7", Value: 3.5, Timestamp: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func TestTickStoresReadingAndMirrors(t *testing.T) {
	writer := &memoryWriter{}
	sink := &recordingSink{}
	failing := &recordingSink{err: errors.New("redis down")}
	fetch := fetchFunc(func(context.Context) (model.Reading, error) { return sampleReading(), nil })
	job := NewIngestJob(fetch, writer, zap.NewNop(), metrics.New(), time.Second, failing, sink)

	if outcome := job.Tick(context.Background()); outcome != OutcomeStored {
		t.Fatalf("expected stored, got %s", outcome)
	}
	if writer.count() != 1 {
		t.Fatalf("expected one write, got %d", writer.count())
	}
	if len(sink.got) != 1 || sink.got[0].ID != "id-1" {
		t.Fatalf("expected sink to receive stored reading with id, got %+v", sink.got)
	}
}

func TestTickInvalidPayloadWarnsWithoutWriting(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	writer := &memoryWriter{}
	fetch := fetchFunc(func(context.Context) (model.Reading, error) { return model.Reading{}, device.ErrIncompletePayload })
	job := NewIngestJob(fetch, writer, zap.New(core), nil, time.Second)

	if outcome := job.Tick(context.Background()); outcome != OutcomeInvalid {
		t.Fatalf("expected invalid_payload, got %s", outcome)
	}
	if writer.count() != 0 {
		t.Fatalf("expected no writes, got %d", writer.count())
	}
	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(warnings) != 1 || warnings[0].Message != "invalid payload from device" {
		t.Fatalf("expected one invalid payload warning, got %+v", warnings)
	}
}

func TestTickFetchFailure(t *testing.T) {
	writer := &memoryWriter{}
	fetch := fetchFunc(func(context.Context) (model.Reading, error) { return model.Reading{}, &device.StatusError{Code: 500} })
	job := NewIngestJob(fetch, writer, zap.NewNop(), nil, time.Second)
	if outcome := job.Tick(context.Background()); outcome != OutcomeFetchFailed {
		t.Fatalf("expected fetch_failed, got %s", outcome)
	}
	if writer.count() != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestTickWriteFailureSkipsSinks(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	writer := &memoryWriter{err: errors.New("write concern timeout")}
	sink := &recordingSink{}
	fetch := fetchFunc(func(context.Context) (model.Reading, error) { return sampleReading(), nil })
	job := NewIngestJob(fetch, writer, zap.New(core), nil, time.Second, sink)

	if outcome := job.Tick(context.Background()); outcome != OutcomeWriteFailed {
		t.Fatalf("expected write_failed, got %s", outcome)
	}
	if len(sink.got) != 0 {
		t.Fatalf("expected sinks to be skipped")
	}
	if logs.FilterMessage("error saving reading").Len() != 1 {
		t.Fatalf("expected write failure to be logged")
	}
}

func TestTickUnconfigured(t *testing.T) {
	job := NewIngestJob(nil, &memoryWriter{}, zap.NewNop(), nil, time.Second)
	if outcome := job.Tick(context.Background()); outcome != OutcomeUnconfigured {
		t.Fatalf("expected skipped_unconfigured, got %s", outcome)
	}
}

func TestTickSkipsWhilePreviousRunning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fetch := fetchFunc(func(context.Context) (model.Reading, error) {
		close(entered)
		<-release
		return sampleReading(), nil
	})
	writer := &memoryWriter{}
	job := NewIngestJob(fetch, writer, zap.NewNop(), nil, time.Second)

	done := make(chan Outcome, 1)
	go func() { done <- job.Tick(context.Background()) }()
	<-entered

	if outcome := job.Tick(context.Background()); outcome != OutcomeBusy {
		t.Fatalf("expected skipped_busy, got %s", outcome)
	}
	close(release)
	if outcome := <-done; outcome != OutcomeStored {
		t.Fatalf("expected first tick to store, got %s", outcome)
	}
	if writer.count() != 1 {
		t.Fatalf("expected exactly one write, got %d", writer.count())
	}
}

func TestTickRespectsTimeout(t *testing.T) {
	fetch := fetchFunc(func(ctx context.Context) (model.Reading, error) {
		<-ctx.Done()
		return model.Reading{}, ctx.Err()
	})
	job := NewIngestJob(fetch, &memoryWriter{}, zap.NewNop(), nil, 20*time.Millisecond)
	if outcome := job.Tick(context.Background()); outcome != OutcomeFetchFailed {
		t.Fatalf("expected fetch_failed after timeout, got %s", outcome)
	}
}

func TestStartAndWait(t *testing.T) {
	writer := &memoryWriter{}
	fetch := fetchFunc(func(context.Context) (model.Reading, error) { return sampleReading(), nil })
	job := NewIngestJob(fetch, writer, zap.NewNop(), nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	job.Start(ctx, 5*time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for writer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	job.Wait()
	if writer.count() == 0 {
		t.Fatalf("expected at least one reading to be written")
	}
}

func TestTickNonFiniteDeviceValueIsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"main":{"value":"NaN","pre":"Inf","timestamp":"2026-05-01T10:00:00+0000"}}`))
	}))
	t.Cleanup(srv.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	writer := &memoryWriter{}
	job := NewIngestJob(device.NewClient(srv.URL, srv.Client()), writer, zap.New(core), nil, time.Second)

	if outcome := job.Tick(context.Background()); outcome != OutcomeInvalid {
		t.Fatalf("expected invalid_payload, got %s", outcome)
	}
	if writer.count() != 0 {
		t.Fatalf("expected no writes, got %d", writer.count())
	}
	if logs.FilterMessage("invalid payload from device").Len() != 1 {
		t.Fatalf("expected invalid payload warning")
	}
}
