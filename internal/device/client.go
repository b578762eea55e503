// Package device talks to the meter's embedded HTTP server.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"smartmeter/internal/model"
)

var (
	// ErrIncompletePayload means the device answered without a value or timestamp.
	ErrIncompletePayload = errors.New("device payload is missing value or timestamp")
	ErrInvalidPayload    = errors.New("device payload is malformed")
)

// StatusError is returned when the device answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device responded with status %d", e.Code)
}

type Client struct {
	httpClient *http.Client
	endpoint   string
	deviceIP   string
}

// NewClient builds a client for the device at addr ("192.168.1.40", "host:port" or a full http URL).
// A nil httpClient falls back to http.DefaultClient.
func NewClient(addr string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	deviceIP := strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	return &Client{
		httpClient: httpClient,
		endpoint:   base + "/json",
		deviceIP:   deviceIP,
	}
}

func (c *Client) DeviceIP() string { return c.deviceIP }

func (c *Client) Endpoint() string { return c.endpoint }

// FetchLatest reads the device's current measurement.
func (c *Client) FetchLatest(ctx context.Context) (model.Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return model.Reading{}, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.httpClient.Do(req)
	if err != nil {
		return model.Reading{}, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, res.Body)
		return model.Reading{}, &StatusError{Code: res.StatusCode}
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return model.Reading{}, err
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.Reading{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.Main == nil {
		return model.Reading{}, ErrIncompletePayload
	}
	return payload.Main.Reading(c.deviceIP)
}

// Payload is the document served at /json.
type Payload struct {
	Main *MainValue `json:"main"`
}

type MainValue struct {
	Value     Number `json:"value"`
	Timestamp Text   `json:"timestamp"`
	Raw       Number `json:"raw"`
	Pre       Number `json:"pre"`
	Error     Text   `json:"error"`
	Rate      Number `json:"rate"`
}

// Reading converts the payload into a reading attributed to deviceIP.
// Value and timestamp are required; optional fields that do not parse are dropped.
func (m MainValue) Reading(deviceIP string) (model.Reading, error) {
	if !m.Value.Present() || !m.Timestamp.Present() {
		return model.Reading{}, ErrIncompletePayload
	}
	value, err := m.Value.Float()
	if err != nil {
		return model.Reading{}, fmt.Errorf("%w: value: %v", ErrInvalidPayload, err)
	}
	ts, err := ParseTimestamp(m.Timestamp.String())
	if err != nil {
		return model.Reading{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	reading := model.Reading{
		Value:     value,
		Timestamp: ts.UTC(),
		DeviceIP:  deviceIP,
		Raw:       m.Raw.Optional(),
		Pre:       m.Pre.Optional(),
		Rate:      m.Rate.Optional(),
	}
	if m.Error.Present() {
		msg := m.Error.String()
		reading.Error = &msg
	}
	return reading, nil
}

// Number accepts a JSON number or a numeric string. Null and blank strings are absent.
type Number struct {
	text string
}

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		n.text = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n.text = strings.TrimSpace(s)
	default:
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return fmt.Errorf("expected number, got %s", data)
		}
		n.text = num.String()
	}
	return nil
}

func (n Number) Present() bool { return n.text != "" }

// Float parses the number. NaN and infinities are rejected.
func (n Number) Float() (float64, error) {
	v, err := strconv.ParseFloat(n.text, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite number %q", ErrInvalidPayload, n.text)
	}
	return v, nil
}

// Optional returns nil when the number is absent, does not parse, or is not finite.
func (n Number) Optional() *float64 {
	if !n.Present() {
		return nil
	}
	v, err := n.Float()
	if err != nil {
		return nil
	}
	return &v
}

// Text accepts a JSON string or any scalar, keeping its literal form. Null and blank are absent.
type Text struct {
	text string
}

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		t.text = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t.text = strings.TrimSpace(s)
	default:
		t.text = string(data)
	}
	return nil
}

func (t Text) Present() bool  { return t.text != "" }
func (t Text) String() string { return t.text }

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000-0700",
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
}

// ParseTimestamp reads the device clock. Layouts without a zone are taken as server local time.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}
