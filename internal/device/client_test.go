package device

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchLatestStringValues(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"main":{"value":"12.5","raw":"00012.5","pre":"10.0","error":"no error","rate":"0.25","timestamp":"2026-03-04T05:06:07+0000"}}`)
	client := NewClient(srv.URL, srv.Client())

	reading, err := client.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if reading.Value != 12.5 {
		t.Fatalf("expected value 12.5, got %v", reading.Value)
	}
	if reading.Raw == nil || *reading.Raw != 12.5 || reading.Pre == nil || *reading.Pre != 10 {
		t.Fatalf("unexpected raw/pre %v %v", reading.Raw, reading.Pre)
	}
	if reading.Rate == nil || *reading.Rate != 0.25 {
		t.Fatalf("unexpected rate %v", reading.Rate)
	}
	if reading.Error == nil || *reading.Error != "no error" {
		t.Fatalf("unexpected error field %v", reading.Error)
	}
	want := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if !reading.Timestamp.Equal(want) || reading.Timestamp.Location() != time.UTC {
		t.Fatalf("expected %s in UTC, got %s", want, reading.Timestamp)
	}
	if reading.DeviceIP != client.DeviceIP() {
		t.Fatalf("expected device ip %q, got %q", client.DeviceIP(), reading.DeviceIP)
	}
}

func TestFetchLatestNumericValuesAndNulls(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"main":{"value":0,"raw":null,"pre":"","error":null,"rate":"n/a","timestamp":"2026-03-04T05:06:07Z"}}`)
	reading, err := NewClient(srv.URL, nil).FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if reading.Value != 0 {
		t.Fatalf("expected zero value to be accepted, got %v", reading.Value)
	}
	if reading.Raw != nil || reading.Pre != nil || reading.Rate != nil || reading.Error != nil {
		t.Fatalf("expected absent optional fields, got %+v", reading)
	}
}

func TestFetchLatestIncompletePayload(t *testing.T) {
	cases := []string{
		`{"main":{"timestamp":"2026-03-04T05:06:07Z"}}`,
		`{"main":{"value":"3"}}`,
		`{"main":{"value":"","timestamp":"2026-03-04T05:06:07Z"}}`,
		`{}`,
	}
	for _, body := range cases {
		srv := serve(t, http.StatusOK, body)
		_, err := NewClient(srv.URL, srv.Client()).FetchLatest(context.Background())
		if !errors.Is(err, ErrIncompletePayload) {
			t.Fatalf("%s: expected ErrIncompletePayload, got %v", body, err)
		}
	}
}

func TestFetchLatestMalformedPayload(t *testing.T) {
	cases := []string{
		`not json`,
		`{"main":{"value":"abc","timestamp":"2026-03-04T05:06:07Z"}}`,
		`{"main":{"value":"1","timestamp":"yesterday"}}`,
		`{"main":{"value":true,"timestamp":"2026-03-04T05:06:07Z"}}`,
	}
	for _, body := range cases {
		srv := serve(t, http.StatusOK, body)
		_, err := NewClient(srv.URL, srv.Client()).FetchLatest(context.Background())
		if !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%s: expected ErrInvalidPayload, got %v", body, err)
		}
	}
}

func TestFetchLatestStatusError(t *testing.T) {
	srv := serve(t, http.StatusServiceUnavailable, `busy`)
	_, err := NewClient(srv.URL, srv.Client()).FetchLatest(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status error 503, got %v", err)
	}
}

func TestNewClientAddressForms(t *testing.T) {
	c := NewClient(" 192.168.1.40 ", nil)
	if c.Endpoint() != "http://192.168.1.40/json" || c.DeviceIP() != "192.168.1.40" {
		t.Fatalf("unexpected client %s / %s", c.Endpoint(), c.DeviceIP())
	}
	c = NewClient("http://meter.local:8080/", nil)
	if c.Endpoint() != "http://meter.local:8080/json" || c.DeviceIP() != "meter.local:8080" {
		t.Fatalf("unexpected client %s / %s", c.Endpoint(), c.DeviceIP())
	}
}

func TestParseTimestampLocalLayouts(t *testing.T) {
	ts, err := ParseTimestamp("2026-03-04 05:06:07")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local)
	if !ts.Equal(want) {
		t.Fatalf("expected %s, got %s", want, ts)
	}
	if _, err := ParseTimestamp("2026-03-04T05:06:07"); err != nil {
		t.Fatalf("parse zone-less ISO: %v", err)
	}
	if _, err := ParseTimestamp("2026-03-04T05:06:07.123Z"); err != nil {
		t.Fatalf("parse fractional RFC3339: %v", err)
	}
}

func TestFetchLatestRejectsNonFiniteValue(t *testing.T) {
	for _, value := range []string{`"NaN"`, `"nan"`, `"Inf"`, `"+Inf"`, `"-infinity"`} {
		srv := serve(t, http.StatusOK, `{"main":{"value":`+value+`,"timestamp":"2026-05-01T10:00:00+0000"}}`)
		_, err := NewClient(srv.URL, srv.Client()).FetchLatest(context.Background())
		if !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("value %s: expected ErrInvalidPayload, got %v", value, err)
		}
	}
}

func TestFetchLatestDropsNonFiniteOptionalFields(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"main":{"value":"4","pre":"Inf","raw":"NaN","rate":"-Inf","timestamp":"2026-05-01T10:00:00+0000"}}`)
	reading, err := NewClient(srv.URL, srv.Client()).FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if reading.Pre != nil || reading.Raw != nil || reading.Rate != nil {
		t.Fatalf("expected non-finite optional fields to be dropped, got pre=%v raw=%v rate=%v", reading.Pre, reading.Raw, reading.Rate)
	}
}
