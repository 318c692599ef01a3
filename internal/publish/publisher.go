// Package publish is the Publisher (component D): it turns raw lines of
// job output into HTML-safe lines on the Pub/Sub Bus. Grounded on
// kozmic/builds/tasks.py's Tailer.run, which does the publish+rpush
// pair for every line read from the build log file; here the ANSI
// filter (component C) sits between the raw line and the bus instead
// of being applied later at render time, since the spec wants
// HTML-ready lines on the wire for the live relay.
package publish

import (
	"context"
	"fmt"

	"github.com/kozmic/kozmic/internal/ansi"
	"github.com/kozmic/kozmic/internal/pubsub"
)

// Bus is the subset of *pubsub.Bus the Publisher needs, narrowed to an
// interface so tests and the fingerprint-less fake engine can swap in
// a stub.
type Bus interface {
	Publish(ctx context.Context, channel, line string) error
	Append(ctx context.Context, channel, line string) error
	Finish(ctx context.Context, channel string) error
}

var _ Bus = (*pubsub.Bus)(nil)

// Publisher writes one job's output to a single bus channel.
type Publisher struct {
	bus     Bus
	channel string
}

// New returns a Publisher that writes to channel, conventionally a
// job's task UUID.
func New(bus Bus, channel string) *Publisher {
	return &Publisher{bus: bus, channel: channel}
}

// Line publishes and appends a single raw line, after running it
// through the ANSI-to-HTML filter and appending the trailing newline
// the relay expects each backlog entry to carry.
func (p *Publisher) Line(ctx context.Context, raw string) error {
	line := ansi.Line(raw) + "\n"
	if err := p.bus.Publish(ctx, p.channel, line); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := p.bus.Append(ctx, p.channel, line); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Finish deletes the channel's backlog key, signalling end-of-stream
// to every relay client watching it.
func (p *Publisher) Finish(ctx context.Context) error {
	if err := p.bus.Finish(ctx, p.channel); err != nil {
		return fmt.Errorf("publish: finishing %s: %w", p.channel, err)
	}
	return nil
}
