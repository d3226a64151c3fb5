package core

import "time"

// Config holds tunable settings as key-value pairs, allowing the embedding
// application to override individual timeouts without a dedicated struct per
// component.
type Config map[string]interface{}

// Config keys understood by the engine and its subsystems.
const (
	// ConfigPageSize is the history page size (int).
	ConfigPageSize = "page_size"
	// ConfigPendingTTL is how long a pending message may stay unconfirmed
	// before the staleness sweep fails it (duration).
	ConfigPendingTTL = "pending_ttl"
	// ConfigSweepInterval is how often the staleness sweep runs (duration).
	ConfigSweepInterval = "sweep_interval"
	// ConfigTypingIdle is the keystroke idle time after which typing:false is
	// emitted (duration).
	ConfigTypingIdle = "typing_idle"
	// ConfigTypingExpiry is how long a remote typing flag survives without a
	// refresh (duration).
	ConfigTypingExpiry = "typing_expiry"
	// ConfigPresenceTimeout bounds the check_user_online probe (duration).
	ConfigPresenceTimeout = "presence_timeout"
	// ConfigPresencePoll is the background presence re-poll interval
	// (duration).
	ConfigPresencePoll = "presence_poll"
)

// GetString returns a string value from the configuration.
func (c Config) GetString(key string) (string, bool) {
	val, ok := c[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt returns an int value from the configuration.
func (c Config) GetInt(key string) (int, bool) {
	val, ok := c[key]
	if !ok {
		return 0, false
	}
	// Handle both int and float64 (from JSON unmarshaling)
	switch v := val.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// GetBool returns a bool value from the configuration.
func (c Config) GetBool(key string) (bool, bool) {
	val, ok := c[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// GetDuration returns a duration value from the configuration. String values
// are parsed with time.ParseDuration; numeric values are read as seconds.
func (c Config) GetDuration(key string) (time.Duration, bool) {
	val, ok := c[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case time.Duration:
		return v, true
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, false
		}
		return d, true
	case int:
		return time.Duration(v) * time.Second, true
	case float64:
		return time.Duration(v * float64(time.Second)), true
	default:
		return 0, false
	}
}

// Set sets a value in the configuration.
func (c Config) Set(key string, value interface{}) {
	c[key] = value
}
