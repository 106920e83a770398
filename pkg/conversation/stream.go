package conversation

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/tether/pkg/gateway"
	"github.com/harun/tether/pkg/reconcile"
)

// EventSource is the subscriber surface the stream consumes.
type EventSource interface {
	Events() <-chan gateway.Event
}

// Stream pumps gateway events through a reconciler and delivers the merged
// updates on a single channel. It owns the pump goroutine; the caller owns
// the subscriber's connection lifecycle.
type Stream struct {
	rec     *reconcile.Reconciler
	logger  zerolog.Logger
	updates chan reconcile.Update

	closeOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewStream starts pumping events from src. The updates channel closes when
// src's event channel closes or Close is called.
func NewStream(src EventSource, rec *reconcile.Reconciler, logger zerolog.Logger) *Stream {
	s := &Stream{
		rec:     rec,
		logger:  logger.With().Str("component", "stream").Logger(),
		updates: make(chan reconcile.Update, 64),
		done:    make(chan struct{}),
	}
	go s.pump(src.Events())
	return s
}

// Updates returns the merged update channel.
func (s *Stream) Updates() <-chan reconcile.Update {
	return s.updates
}

// Cancel marks a run as aborted locally. Later events for the run are
// dropped by the reconciler.
func (s *Stream) Cancel(runID string) {
	for _, u := range s.rec.Cancel(runID) {
		s.deliver(u)
	}
}

// Close stops the pump and closes the updates channel.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Stream) pump(events <-chan gateway.Event) {
	defer s.closeUpdates()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				s.logger.Debug().Msg("Event channel closed, stopping stream")
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Stream) handle(ev gateway.Event) {
	var updates []reconcile.Update
	switch {
	case ev.Chat != nil:
		updates = s.rec.HandleChat(*ev.Chat)
	case ev.Agent != nil:
		updates = s.rec.HandleAgent(*ev.Agent)
	}
	for _, u := range updates {
		s.deliver(u)
	}
}

// deliver blocks until the update is accepted or the stream shuts down.
// The lock serializes deliveries from the pump and from Cancel against the
// channel close.
func (s *Stream) deliver(u reconcile.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.updates <- u:
	case <-s.done:
	}
}

func (s *Stream) closeUpdates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	close(s.updates)
}
