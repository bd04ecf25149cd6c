package transport

import "time"

type options struct {
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	rttInterval    time.Duration
	maxMessageSize int64
	queueSize      int
}

func defaultOptions() options {
	return options{
		writeWait: 10 * time.Second,
		// pongWait is long because clients block on WASM compile; the
		// loading grace protocol depends on this not firing early.
		pongWait:       30 * time.Second,
		pingPeriod:     8 * time.Second,
		rttInterval:    time.Second,
		maxMessageSize: 4 << 20, // validation exports are large
		queueSize:      256,
	}
}

func (o options) pump() pumpConfig {
	return pumpConfig{
		writeWait:      o.writeWait,
		pongWait:       o.pongWait,
		pingPeriod:     o.pingPeriod,
		maxMessageSize: o.maxMessageSize,
		queueSize:      o.queueSize,
	}
}

// Option configures the hub.
type Option func(*options)

// WithHeartbeat sets the transport-level ping cadence and pong deadline.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(o *options) {
		o.pingPeriod = interval
		o.pongWait = timeout
	}
}

// WithRTTInterval sets the application-level ping cadence.
func WithRTTInterval(d time.Duration) Option {
	return func(o *options) {
		o.rttInterval = d
	}
}

// WithQueueSize sets the [BACKPRESSURE] bound of each outbound queue.
func WithQueueSize(size int) Option {
	return func(o *options) {
		o.queueSize = size
	}
}

// WithMaxMessageSize bounds inbound frames.
func WithMaxMessageSize(n int64) Option {
	return func(o *options) {
		o.maxMessageSize = n
	}
}
