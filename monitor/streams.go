package monitor

import (
	"github.com/arimnet/arimgo/metrics"
	"github.com/arimnet/arimgo/queue"
)

// Streams holds one line queue per stream. Producers post from any goroutine
// and the monitor server drains them on its flush tick. It implements
// session.Sink.
type Streams struct {
	rings map[queue.Stream]*queue.Ring[queue.Line]
}

// NewStreams creates the stream queues, each holding up to capacity unread
// lines. Overwritten lines are counted in m.
func NewStreams(capacity int, m *metrics.Metrics) *Streams {
	if capacity <= 0 {
		capacity = queue.DefaultLineCap
	}

	s := &Streams{
		rings: make(map[queue.Stream]*queue.Ring[queue.Line]),
	}

	for _, stream := range queue.Streams() {
		s.rings[stream] = queue.NewRing[queue.Line](
			stream.String(), capacity,
			queue.WithOverflowCounter[queue.Line](
				m.QueueOverflow(stream.String()),
			),
		)
	}

	return s
}

// Post queues a line on its stream.
func (s *Streams) Post(l queue.Line) {
	r, ok := s.rings[l.Stream]
	if !ok {
		log.Warnf("Line for unknown stream %d dropped", l.Stream)
		return
	}

	r.Push(l)
}

// Drain pops all unread lines of one stream.
func (s *Streams) Drain(stream queue.Stream) []queue.Line {
	r, ok := s.rings[stream]
	if !ok {
		return nil
	}

	var lines []queue.Line
	for {
		l, ok := r.Pop()
		if !ok {
			return lines
		}
		lines = append(lines, l)
	}
}

// DrainAll pops the unread lines of every stream, stream by stream.
func (s *Streams) DrainAll() []queue.Line {
	var lines []queue.Line
	for _, stream := range queue.Streams() {
		lines = append(lines, s.Drain(stream)...)
	}

	return lines
}

// Overflows returns how many lines of a stream were lost.
func (s *Streams) Overflows(stream queue.Stream) uint64 {
	r, ok := s.rings[stream]
	if !ok {
		return 0
	}

	return r.Overflows()
}
