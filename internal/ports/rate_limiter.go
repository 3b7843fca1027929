package ports

import (
	"time"
)

// RateLimitRule caps requests for one dependency key across fixed sliding
// windows plus a short-horizon burst limit.
type RateLimitRule struct {
	RequestsPerSecond int `json:"requests_per_second" yaml:"requests_per_second"`
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour" yaml:"requests_per_hour"`
	RequestsPerDay    int `json:"requests_per_day" yaml:"requests_per_day"`
	BurstLimit        int `json:"burst_limit" yaml:"burst_limit"`
}

// WindowStatus reports one window's headroom so callers can back off
// deterministically.
type WindowStatus struct {
	Window    time.Duration `json:"window"`
	Limit     int           `json:"limit"`
	Used      int           `json:"used"`
	Remaining int           `json:"remaining"`
	ResetAt   time.Time     `json:"reset_at"`
}

type RateLimitDecision struct {
	Allowed       bool           `json:"allowed"`
	Key           string         `json:"key"`
	Windows       []WindowStatus `json:"windows"`
	BurstExceeded bool           `json:"burst_exceeded,omitempty"`
	// RetryAfter is the earliest back-off that could succeed when denied.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// RateLimiter tracks request history per dependency key. Check and Record
// are separate so a denied or short-circuited call never consumes quota;
// each is atomic per key under concurrent callers.
type RateLimiter interface {
	Check(key string) RateLimitDecision
	Record(key string)
	SetRule(key string, rule RateLimitRule)
	Rule(key string) RateLimitRule
	Status(key string) RateLimitDecision
}
