package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func ParseRole(value string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(value))) {
	case RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// Reading is one timestamped measurement taken from a meter device.
// Raw, Pre, Error and Rate are optional on the device side and stay nil when absent.
type Reading struct {
	ID        string    `json:"_id,omitempty"`
	Value     float64   `json:"value"`
	Raw       *float64  `json:"raw"`
	Pre       *float64  `json:"pre"`
	Error     *string   `json:"error"`
	Rate      *float64  `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
	DeviceIP  string    `json:"device_ip"`
}

type User struct {
	ID              string
	Username        string
	PasswordHash    string
	Role            Role
	AssignedDevices []string
	CreatedAt       time.Time
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanView reports whether the user may see readings of the given device.
func (u User) CanView(deviceIP string) bool {
	if u.IsAdmin() {
		return true
	}
	for _, ip := range u.AssignedDevices {
		if ip == deviceIP {
			return true
		}
	}
	return false
}

// NormalizeDevices trims device addresses, drops blanks and duplicates, and keeps the input order.
func NormalizeDevices(devices []string) []string {
	out := make([]string, 0, len(devices))
	seen := make(map[string]struct{}, len(devices))
	for _, ip := range devices {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	return out
}
