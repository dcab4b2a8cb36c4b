package observer

import (
	"sync"
)

// SimulatedSource is an in-memory EventSource for tests, trace replay and
// calibration. Events are delivered synchronously to every subscriber.
type SimulatedSource struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handlers
}

// NewSimulatedSource creates an empty source.
func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{
		handlers: make(map[int]Handlers),
	}
}

// Subscribe implements EventSource.
func (s *SimulatedSource) Subscribe(h Handlers) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of attached handler sets.
func (s *SimulatedSource) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

func (s *SimulatedSource) snapshot() []Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Handlers, 0, len(s.handlers))
	for i := 0; i < s.nextID; i++ {
		if h, ok := s.handlers[i]; ok {
			out = append(out, h)
		}
	}
	return out
}

// KeyDown delivers a key press.
func (s *SimulatedSource) KeyDown(ev KeyEvent) {
	for _, h := range s.snapshot() {
		if h.KeyDown != nil {
			h.KeyDown(ev)
		}
	}
}

// KeyUp delivers a key release.
func (s *SimulatedSource) KeyUp(ev KeyEvent) {
	for _, h := range s.snapshot() {
		if h.KeyUp != nil {
			h.KeyUp(ev)
		}
	}
}

// Paste delivers a paste event.
func (s *SimulatedSource) Paste(ev PasteEvent) {
	for _, h := range s.snapshot() {
		if h.Paste != nil {
			h.Paste(ev)
		}
	}
}

// Input delivers an input event.
func (s *SimulatedSource) Input(ev InputEvent) {
	for _, h := range s.snapshot() {
		if h.Input != nil {
			h.Input(ev)
		}
	}
}

// Emit delivers a flattened event of any kind.
func (s *SimulatedSource) Emit(ev Event) {
	switch ev.Type {
	case EventKeyDown:
		s.KeyDown(ev.Key())
	case EventKeyUp:
		s.KeyUp(ev.Key())
	case EventPaste:
		s.Paste(PasteEvent{Timestamp: ev.Timestamp, Trusted: ev.Trusted})
	case EventInput:
		s.Input(InputEvent{Timestamp: ev.Timestamp, Trusted: ev.Trusted})
	}
}

// Replay emits events in order.
func (s *SimulatedSource) Replay(events []Event) {
	for _, ev := range events {
		s.Emit(ev)
	}
}

// Tap emits a trusted, unmodified press at down and release at up.
func (s *SimulatedSource) Tap(down, up float64) {
	s.KeyDown(KeyEvent{Timestamp: down, Trusted: true})
	s.KeyUp(KeyEvent{Timestamp: up, Trusted: true})
}
