// Package observer reduces a raw keyboard event stream to timing statistics.
//
// IMPORTANT: The observer never learns which keys are pressed. Events carry
// timestamps, modifier state and a single correction/other distinction:
//   - Keylogger: Records "h", "e", "l", "l", "o" -> "hello"
//   - This package: Records "5 keystrokes, dwell 80ms, flight 120ms"
//
// The filter keeps behaviourally meaningful signals (corrections, rollover,
// paste, text arriving without keystrokes) while keeping shortcut chords and
// auto-repeat out of the dwell/flight windows.
package observer

import (
	"sync"

	"keycadence/internal/ringbuffer"
)

// InputGraceMs is how long after a key press an input event is still
// attributed to that press.
const InputGraceMs = 50.0

// DefaultWindowSize is the dwell and flight window capacity.
const DefaultWindowSize = 100

// Snapshot is a point-in-time copy of the observer's state.
type Snapshot struct {
	Dwells  []float64 `json:"dwells"`
	Flights []float64 `json:"flights"`

	Corrections int `json:"corrections"`
	Rollovers   int `json:"rollovers"`
	Total       int `json:"total"` // valid (non-filtered) keystrokes

	PasteDetected               bool `json:"paste_detected"`
	SyntheticEvents             int  `json:"synthetic_events"`
	InputWithoutKeystrokes      bool `json:"input_without_keystrokes"`
	InputWithoutKeystrokesCount int  `json:"input_without_keystrokes_count"`
}

// Observer consumes events from one EventSource.
type Observer struct {
	mu sync.Mutex

	source      EventSource
	unsubscribe func()
	onKeystroke func()

	dwells  *ringbuffer.Buffer
	flights *ringbuffer.Buffer

	corrections     int
	rollovers       int
	total           int
	pasteDetected   bool
	syntheticEvents int
	inputNoKeys     bool
	inputNoKeysN    int

	// transient tracking
	lastPress       float64
	hasLastPress    bool
	lastRelease     float64
	hasLastRelease  bool
	lastKeyDown     float64
	hasLastKeyDown  bool
	activeKeys      int
	pendingFiltered int
	orphanRepeat    bool
}

// New creates an observer for source with dwell and flight windows of
// windowSize samples each. It does not start listening.
func New(source EventSource, windowSize int) *Observer {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Observer{
		source:  source,
		dwells:  ringbuffer.New(windowSize),
		flights: ringbuffer.New(windowSize),
	}
}

// OnKeystroke registers fn to run after each key release that updated the
// timing state. It runs outside the observer's lock.
func (o *Observer) OnKeystroke(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onKeystroke = fn
}

// Start attaches to the event source. Calling Start while listening is a no-op.
func (o *Observer) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.unsubscribe != nil || o.source == nil {
		return
	}
	o.unsubscribe = o.source.Subscribe(Handlers{
		KeyDown: o.HandleKeyDown,
		KeyUp:   o.HandleKeyUp,
		Paste:   o.HandlePaste,
		Input:   o.HandleInput,
	})
}

// Stop detaches from the event source. State is kept.
func (o *Observer) Stop() {
	o.mu.Lock()
	unsub := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Listening reports whether the observer is attached.
func (o *Observer) Listening() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unsubscribe != nil
}

// Clear resets all counters, windows and transient state without detaching.
func (o *Observer) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.dwells.Clear()
	o.flights.Clear()
	o.corrections = 0
	o.rollovers = 0
	o.total = 0
	o.pasteDetected = false
	o.syntheticEvents = 0
	o.inputNoKeys = false
	o.inputNoKeysN = 0

	o.lastPress, o.hasLastPress = 0, false
	o.lastRelease, o.hasLastRelease = 0, false
	o.lastKeyDown, o.hasLastKeyDown = 0, false
	o.activeKeys = 0
	o.pendingFiltered = 0
	o.orphanRepeat = false
}

// Destroy stops listening and clears all state.
func (o *Observer) Destroy() {
	o.Stop()
	o.Clear()
}

// Snapshot returns a copy of the current state.
func (o *Observer) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	return Snapshot{
		Dwells:                      o.dwells.ToSlice(),
		Flights:                     o.flights.ToSlice(),
		Corrections:                 o.corrections,
		Rollovers:                   o.rollovers,
		Total:                       o.total,
		PasteDetected:               o.pasteDetected,
		SyntheticEvents:             o.syntheticEvents,
		InputWithoutKeystrokes:      o.inputNoKeys,
		InputWithoutKeystrokesCount: o.inputNoKeysN,
	}
}

// HandleKeyDown processes a key press.
func (o *Observer) HandleKeyDown(ev KeyEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := ev.Timestamp
	o.lastKeyDown, o.hasLastKeyDown = now, true

	if !ev.Trusted {
		o.syntheticEvents++
	}

	// Counted before the shortcut filter: Ctrl+Backspace is still a correction.
	if ev.Kind.IsCorrection() {
		o.corrections++
	}

	if ev.Repeat {
		// A repeat with no open press has no valid start time.
		if o.activeKeys == 0 {
			o.orphanRepeat = true
		}
		return
	}

	if ev.Modifiers.Shortcut() {
		o.pendingFiltered++
		return
	}

	if o.activeKeys > 0 {
		o.rollovers++
	} else if o.hasLastRelease {
		o.flights.Push(now - o.lastRelease)
	}
	o.activeKeys++
	o.total++
	o.orphanRepeat = false
	o.lastPress, o.hasLastPress = now, true
}

// HandleKeyUp processes a key release.
func (o *Observer) HandleKeyUp(ev KeyEvent) {
	o.mu.Lock()

	if o.pendingFiltered > 0 {
		o.pendingFiltered--
		o.mu.Unlock()
		return
	}

	now := ev.Timestamp
	if o.hasLastPress && !o.orphanRepeat {
		o.dwells.Push(now - o.lastPress)
	}
	o.orphanRepeat = false
	if o.activeKeys > 0 {
		o.activeKeys--
	}
	o.lastRelease, o.hasLastRelease = now, true

	notify := o.onKeystroke
	o.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// HandlePaste marks the session as having received pasted content.
// The flag is sticky until Clear.
func (o *Observer) HandlePaste(PasteEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pasteDetected = true
}

// HandleInput detects value changes that no captured key press explains,
// such as dictation, autofill or an IME commit.
func (o *Observer) HandleInput(ev InputEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.hasLastKeyDown && ev.Timestamp-o.lastKeyDown <= InputGraceMs {
		return
	}
	o.inputNoKeys = true
	o.inputNoKeysN++
	// The next real keystroke must not measure a flight against a stale release.
	o.lastRelease, o.hasLastRelease = 0, false
}
