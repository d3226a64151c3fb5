package conversation

import (
	"time"

	"Parley/pkg/core"
)

// Options carries the tunable timeouts and intervals of one conversation
// session. Zero values are replaced by the defaults.
type Options struct {
	// PageSize is the history page size for LoadMore.
	PageSize int
	// PendingTTL is how long a pending message may stay unconfirmed before
	// the staleness sweep fails it.
	PendingTTL time.Duration
	// SweepInterval is how often the staleness sweep runs.
	SweepInterval time.Duration
	// TypingIdle is the keystroke idle time after which typing:false is sent.
	TypingIdle time.Duration
	// TypingExpiry is how long a remote typing flag survives unrefreshed.
	TypingExpiry time.Duration
	// PresenceTimeout bounds the check_user_online probe.
	PresenceTimeout time.Duration
	// PresencePoll is the background presence re-poll interval.
	PresencePoll time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		PageSize:        50,
		PendingTTL:      30 * time.Second,
		SweepInterval:   5 * time.Second,
		TypingIdle:      2 * time.Second,
		TypingExpiry:    3 * time.Second,
		PresenceTimeout: 3 * time.Second,
		PresencePoll:    15 * time.Second,
	}
}

// OptionsFromConfig builds Options from a core.Config, falling back to the
// defaults for missing or malformed keys.
func OptionsFromConfig(cfg core.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	if v, ok := cfg.GetInt(core.ConfigPageSize); ok && v > 0 {
		opts.PageSize = v
	}
	if v, ok := cfg.GetDuration(core.ConfigPendingTTL); ok && v > 0 {
		opts.PendingTTL = v
	}
	if v, ok := cfg.GetDuration(core.ConfigSweepInterval); ok && v > 0 {
		opts.SweepInterval = v
	}
	if v, ok := cfg.GetDuration(core.ConfigTypingIdle); ok && v > 0 {
		opts.TypingIdle = v
	}
	if v, ok := cfg.GetDuration(core.ConfigTypingExpiry); ok && v > 0 {
		opts.TypingExpiry = v
	}
	if v, ok := cfg.GetDuration(core.ConfigPresenceTimeout); ok && v > 0 {
		opts.PresenceTimeout = v
	}
	if v, ok := cfg.GetDuration(core.ConfigPresencePoll); ok && v > 0 {
		opts.PresencePoll = v
	}
	return opts
}

// normalized fills any zero field with its default.
func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.PageSize <= 0 {
		o.PageSize = def.PageSize
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = def.PendingTTL
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = def.SweepInterval
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = def.TypingIdle
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = def.TypingExpiry
	}
	if o.PresenceTimeout <= 0 {
		o.PresenceTimeout = def.PresenceTimeout
	}
	if o.PresencePoll <= 0 {
		o.PresencePoll = def.PresencePoll
	}
	return o
}
