package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings are the tunables of one breaker, read from CB_<NAME>_* variables.
type Settings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

var defaults = map[string]Settings{
	"redis":    {MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 3, SuccessThreshold: 2},
	"database": {MaxRequests: 3, Interval: 60 * time.Second, Timeout: 30 * time.Second, FailureThreshold: 5, SuccessThreshold: 2},
	"search":   {MaxRequests: 5, Interval: 30 * time.Second, Timeout: 15 * time.Second, FailureThreshold: 5, SuccessThreshold: 2},
	"llm":      {MaxRequests: 3, Interval: 60 * time.Second, Timeout: 30 * time.Second, FailureThreshold: 5, SuccessThreshold: 1},
}

// SettingsFor returns settings for a dependency class (redis, database, search, llm),
// with CB_<CLASS>_MAX_REQUESTS, _INTERVAL, _TIMEOUT, _FAILURE_THRESHOLD and
// _SUCCESS_THRESHOLD overriding the built-in defaults.
func SettingsFor(class string) Settings {
	s, ok := defaults[class]
	if !ok {
		d := DefaultConfig()
		s = Settings{
			MaxRequests:      d.MaxRequests,
			Interval:         d.Interval,
			Timeout:          d.Timeout,
			FailureThreshold: d.FailureThreshold,
			SuccessThreshold: d.SuccessThreshold,
		}
	}
	prefix := "CB_" + strings.ToUpper(class) + "_"
	s.MaxRequests = getEnvUint32(prefix+"MAX_REQUESTS", s.MaxRequests)
	s.Interval = getEnvDuration(prefix+"INTERVAL", s.Interval)
	s.Timeout = getEnvDuration(prefix+"TIMEOUT", s.Timeout)
	s.FailureThreshold = getEnvUint32(prefix+"FAILURE_THRESHOLD", s.FailureThreshold)
	s.SuccessThreshold = getEnvUint32(prefix+"SUCCESS_THRESHOLD", s.SuccessThreshold)
	return s
}

// ToConfig converts Settings to a breaker Config
func (s Settings) ToConfig() Config {
	return Config{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
