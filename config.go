package multiplex

import "github.com/go-multiplex/multiplex/internal/framebuf"

// Config configures a Multiplex instance. The zero value is valid and uses
// all defaults.
type Config struct {
	// ArenaCapacity is the segment size of the FrameBuf arena backing
	// every exchange's outbound body backlog (SPEC_FULL.md §4.1). Zero
	// means framebuf.DefaultCapacity.
	ArenaCapacity int

	// BodyChannelCapacity bounds how many items may sit in a body
	// stream's channel before BodySender.PollReady reports NotReady.
	// Zero means DefaultBodyChannelCapacity.
	BodyChannelCapacity int

	// Metrics, if non-nil, receives tick-level instrumentation. The
	// metrics package supplies a Prometheus-backed implementation; a nil
	// Metrics is replaced by a no-op recorder in New.
	Metrics Recorder
}

// DefaultBodyChannelCapacity is used when Config.BodyChannelCapacity is
// zero.
const DefaultBodyChannelCapacity = 16

func (c Config) arenaCapacity() int {
	if c.ArenaCapacity <= 0 {
		return framebuf.DefaultCapacity
	}
	return c.ArenaCapacity
}

func (c Config) bodyChannelCapacity() int {
	if c.BodyChannelCapacity <= 0 {
		return DefaultBodyChannelCapacity
	}
	return c.BodyChannelCapacity
}

// Recorder receives optional tick-level instrumentation. See the metrics
// package for a Prometheus-backed implementation; Multiplex depends only on
// this interface so the core engine never imports Prometheus directly.
type Recorder interface {
	Tick()
	ExchangeOpened()
	ExchangeClosed()
	ArenaInUse(n int)
}

// noopRecorder is used when Config.Metrics is nil.
type noopRecorder struct{}

func (noopRecorder) Tick()            {}
func (noopRecorder) ExchangeOpened()  {}
func (noopRecorder) ExchangeClosed()  {}
func (noopRecorder) ArenaInUse(int)   {}
