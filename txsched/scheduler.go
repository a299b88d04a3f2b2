// Package txsched paces outbound payloads onto the TNC data socket.
//
// Three transfer contexts exist, one per queue.DataKind. They are served in
// priority order file, message, line: while a higher priority context is
// active the lower ones are not touched. Each call to Pass writes at most one
// block, and after each write the context settles before the next one. When
// the TNC reports that its transmit buffer already holds a full block, the
// write is deferred instead.
package txsched

import (
	"io"
	"time"

	"github.com/arimnet/arimgo/ardop"
	"github.com/arimnet/arimgo/queue"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// BlockSize is the largest chunk written to the TNC in one go. It is
	// also the transmit-buffer level at which writing is deferred.
	BlockSize = ardop.BlockSize

	// DefaultSettle is the pause after each write.
	DefaultSettle = 200 * time.Millisecond
)

// Source is a non-blocking queue of outbound payloads.
type Source interface {
	Pop() (queue.Data, bool)
}

// Config holds the collaborators of a Scheduler.
type Config struct {
	// Writer is the TNC data socket.
	Writer io.Writer

	// Files, Messages and Lines feed the three contexts. A nil source is
	// never polled.
	Files    Source
	Messages Source
	Lines    Source

	// Settle is the pause after each write. Zero selects DefaultSettle.
	Settle time.Duration

	// OnComplete is called once the last byte of a payload has been
	// written.
	OnComplete func(d queue.Data)

	// BytesSent optionally counts payload bytes written.
	BytesSent prometheus.Counter
}

// transfer is the in-flight state of one context.
type transfer struct {
	kind queue.DataKind

	item   *queue.Data
	offset int

	// blocks is the number of full blocks left and partial the length
	// of the final short block, if any.
	blocks  int
	partial int

	// settle is when the next write may happen.
	settle time.Time
}

func (t *transfer) active() bool {
	return t.item != nil
}

func (t *transfer) load(d queue.Data, now time.Time) {
	t.item = &d
	t.offset = 0
	t.blocks = len(d.Payload) / BlockSize
	t.partial = len(d.Payload) % BlockSize
	t.settle = now
}

func (t *transfer) reset() {
	t.item = nil
	t.offset = 0
	t.blocks = 0
	t.partial = 0
	t.settle = time.Time{}
}

// done reports whether every byte has been written.
func (t *transfer) done() bool {
	return t.blocks == 0 && t.partial == 0
}

// Scheduler drains the outbound queues. It is not safe for concurrent use;
// the session engine drives it from its event loop.
type Scheduler struct {
	cfg Config

	// transfers is ordered by priority.
	transfers [3]*transfer
	sources   [3]Source
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Settle == 0 {
		cfg.Settle = DefaultSettle
	}

	return &Scheduler{
		cfg: cfg,
		transfers: [3]*transfer{
			{kind: queue.KindFile},
			{kind: queue.KindMessage},
			{kind: queue.KindLine},
		},
		sources: [3]Source{cfg.Files, cfg.Messages, cfg.Lines},
	}
}

// Active reports whether any context has bytes left to write.
func (s *Scheduler) Active() bool {
	for _, t := range s.transfers {
		if t.active() {
			return true
		}
	}

	return false
}

// InFlight reports whether the context of the given kind is active.
func (s *Scheduler) InFlight(kind queue.DataKind) bool {
	for _, t := range s.transfers {
		if t.kind == kind {
			return t.active()
		}
	}

	return false
}

// Remaining returns the number of unwritten bytes of the active context of
// kind.
func (s *Scheduler) Remaining(kind queue.DataKind) int {
	for _, t := range s.transfers {
		if t.kind == kind && t.active() {
			return t.blocks*BlockSize + t.partial
		}
	}

	return 0
}

// Cancel drops whatever is in flight in all three contexts. Queued payloads
// that have not been loaded yet stay in their sources.
func (s *Scheduler) Cancel() {
	for _, t := range s.transfers {
		if t.active() {
			log.Debugf("Cancelling %s transfer %q with %d bytes left",
				t.kind, t.item.Name, t.blocks*BlockSize+t.partial)
		}
		t.reset()
	}
}

// Pass runs one scheduling round at time now with buffered the transmit
// buffer level last reported by the TNC. It writes at most one block. A write
// error cancels all contexts and is returned.
func (s *Scheduler) Pass(now time.Time, buffered int) error {
	for i, t := range s.transfers {
		if !t.active() {
			src := s.sources[i]
			if src == nil {
				continue
			}

			d, ok := src.Pop()
			if !ok {
				continue
			}

			log.Debugf("Loading %s transfer %q (%d bytes)", t.kind,
				d.Name, len(d.Payload))

			t.load(d, now)

			if t.done() {
				s.complete(t)
				return nil
			}
		}

		// The highest priority active context owns this round.
		return s.serve(t, now, buffered)
	}

	return nil
}

func (s *Scheduler) serve(t *transfer, now time.Time, buffered int) error {
	if now.Before(t.settle) {
		return nil
	}

	if buffered >= BlockSize {
		log.Tracef("TNC buffer at %d bytes, deferring %s block",
			buffered, t.kind)
		t.settle = now.Add(s.cfg.Settle)
		return nil
	}

	n := t.partial
	if t.blocks > 0 {
		n = BlockSize
	}

	chunk := t.item.Payload[t.offset : t.offset+n]
	block, err := ardop.EncodeData(chunk)
	if err != nil {
		s.Cancel()
		return err
	}

	if _, err := s.cfg.Writer.Write(block); err != nil {
		log.Errorf("Writing %s block failed: %v", t.kind, err)
		s.Cancel()
		return err
	}

	if s.cfg.BytesSent != nil {
		s.cfg.BytesSent.Add(float64(n))
	}

	t.offset += n
	if t.blocks > 0 {
		t.blocks--
	} else {
		t.partial = 0
	}
	t.settle = now.Add(s.cfg.Settle)

	log.Tracef("Wrote %d byte %s block, %d bytes left", n, t.kind,
		t.blocks*BlockSize+t.partial)

	if t.done() {
		s.complete(t)
	}

	return nil
}

func (s *Scheduler) complete(t *transfer) {
	item := *t.item
	t.reset()

	log.Debugf("Finished %s transfer %q", t.kind, item.Name)

	if s.cfg.OnComplete != nil {
		s.cfg.OnComplete(item)
	}
}
