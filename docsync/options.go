package docsync

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultDebounce    = 300 * time.Millisecond
	DefaultMinInterval = time.Second
	// DefaultSettle approximates two animation frames.
	DefaultSettle = 32 * time.Millisecond
)

// Options tunes the timing of the sync pipeline.
type Options struct {
	// Debounce collapses bursts of canvas change events.
	Debounce time.Duration
	// MinInterval is the pause after each store write before the next
	// queued batch is sent.
	MinInterval time.Duration
	// Settle defers the release of the bridge's sync lock.
	Settle time.Duration
	Logger *logrus.Entry
	Now    func() time.Time
}

type Option func(*Options)

func WithDebounce(d time.Duration) Option {
	return func(o *Options) {
		if d < 0 {
			d = 0
		}
		o.Debounce = d
	}
}

func WithMinInterval(d time.Duration) Option {
	return func(o *Options) {
		if d < 0 {
			d = 0
		}
		o.MinInterval = d
	}
}

func WithSettle(d time.Duration) Option {
	return func(o *Options) {
		if d < 0 {
			d = 0
		}
		o.Settle = d
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(o *Options) {
		o.Logger = log
	}
}

// WithClock replaces time.Now for timestamping writes.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

func buildOptions(opts []Option) Options {
	o := Options{
		Debounce:    DefaultDebounce,
		MinInterval: DefaultMinInterval,
		Settle:      DefaultSettle,
		Now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
