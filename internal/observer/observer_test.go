package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStarted(t *testing.T, window int) (*Observer, *SimulatedSource) {
	t.Helper()
	src := NewSimulatedSource()
	o := New(src, window)
	o.Start()
	require.True(t, o.Listening())
	return o, src
}

func down(ts float64) KeyEvent { return KeyEvent{Timestamp: ts, Trusted: true} }
func up(ts float64) KeyEvent   { return KeyEvent{Timestamp: ts, Trusted: true} }

// =============================================================================
// Dwell / flight arithmetic
// =============================================================================

func TestDwellAndFlightArithmetic(t *testing.T) {
	o, src := newStarted(t, 10)

	src.Tap(1000, 1050)
	src.Tap(1120, 1160)

	s := o.Snapshot()
	assert.Equal(t, []float64{50, 40}, s.Dwells)
	assert.Equal(t, []float64{70}, s.Flights)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 0, s.Rollovers)
}

func TestWindowEvictsOldestSamples(t *testing.T) {
	o, src := newStarted(t, 3)

	ts := 0.0
	for i := 0; i < 6; i++ {
		src.Tap(ts, ts+float64(10+i))
		ts += 100
	}

	s := o.Snapshot()
	assert.Equal(t, []float64{13, 14, 15}, s.Dwells)
	assert.Len(t, s.Flights, 3)
	assert.Equal(t, 6, s.Total)
}

func TestRolloverRecorded(t *testing.T) {
	o, src := newStarted(t, 10)

	src.KeyDown(down(1000))
	src.KeyDown(down(1040)) // pressed before the first released
	src.KeyUp(up(1060))
	src.KeyUp(up(1100))
	src.KeyDown(down(1200))
	src.KeyUp(up(1250))

	s := o.Snapshot()
	assert.Equal(t, 1, s.Rollovers)
	assert.Equal(t, 3, s.Total)
	// only the outer-most press after a full release opens a flight
	assert.Equal(t, []float64{100}, s.Flights)
	assert.Len(t, s.Dwells, 3)
}

// =============================================================================
// Filtering
// =============================================================================

func TestModifierChordContributesNothing(t *testing.T) {
	tests := []struct {
		name string
		mods Modifiers
	}{
		{"control", Modifiers{Control: true}},
		{"meta", Modifiers{Meta: true}},
		{"alt", Modifiers{Alt: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o, src := newStarted(t, 10)
			src.Tap(900, 950)

			src.KeyDown(KeyEvent{Timestamp: 1000, Trusted: true, Modifiers: tc.mods})
			src.KeyUp(KeyEvent{Timestamp: 1080, Trusted: true, Modifiers: tc.mods})

			s := o.Snapshot()
			assert.Equal(t, []float64{50}, s.Dwells)
			assert.Empty(t, s.Flights)
			assert.Equal(t, 1, s.Total)
		})
	}
}

func TestMultiModifierComboDrainsInAnyOrder(t *testing.T) {
	ctrl := Modifiers{Control: true}
	ctrlShift := Modifiers{Control: true, Shift: true}

	orders := map[string][]bool{ // true = release the later key first
		"nested":   {true},
		"in order": {false},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			o, src := newStarted(t, 10)

			src.KeyDown(KeyEvent{Timestamp: 1000, Trusted: true, Modifiers: ctrl})
			src.KeyDown(KeyEvent{Timestamp: 1010, Trusted: true, Modifiers: ctrlShift})
			if order[0] {
				src.KeyUp(KeyEvent{Timestamp: 1050, Trusted: true, Modifiers: ctrlShift})
				src.KeyUp(KeyEvent{Timestamp: 1060, Trusted: true})
			} else {
				src.KeyUp(KeyEvent{Timestamp: 1050, Trusted: true})
				src.KeyUp(KeyEvent{Timestamp: 1060, Trusted: true, Modifiers: ctrl})
			}

			s := o.Snapshot()
			assert.Empty(t, s.Dwells)
			assert.Empty(t, s.Flights)
			assert.Equal(t, 0, s.Total)

			// afterwards, ordinary typing is measured normally
			src.Tap(1200, 1260)
			src.Tap(1300, 1340)
			s = o.Snapshot()
			assert.Equal(t, []float64{60, 40}, s.Dwells)
			assert.Equal(t, []float64{40}, s.Flights)
		})
	}
}

func TestShiftIsTyping(t *testing.T) {
	o, src := newStarted(t, 10)
	src.KeyDown(KeyEvent{Timestamp: 10, Trusted: true, Modifiers: Modifiers{Shift: true}})
	src.KeyUp(KeyEvent{Timestamp: 70, Trusted: true, Modifiers: Modifiers{Shift: true}})

	s := o.Snapshot()
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, []float64{60}, s.Dwells)
}

func TestRepeatDoesNotInflate(t *testing.T) {
	o, src := newStarted(t, 10)

	src.KeyDown(down(1000))
	src.KeyDown(KeyEvent{Timestamp: 1050, Trusted: true, Repeat: true})
	src.KeyDown(KeyEvent{Timestamp: 1100, Trusted: true, Repeat: true})
	src.KeyUp(up(1120))

	s := o.Snapshot()
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, []float64{120}, s.Dwells)
	assert.Empty(t, s.Flights)
}

func TestOrphanRepeatCreatesNoDwell(t *testing.T) {
	o, src := newStarted(t, 10)
	src.Tap(100, 150)

	// Held key whose initial press was never observed.
	src.KeyDown(KeyEvent{Timestamp: 500, Trusted: true, Repeat: true})
	src.KeyUp(up(530))

	s := o.Snapshot()
	assert.Equal(t, []float64{50}, s.Dwells)
	assert.Equal(t, 1, s.Total)
}

func TestCtrlBackspaceCountsCorrectionOnly(t *testing.T) {
	o, src := newStarted(t, 10)

	src.KeyDown(KeyEvent{Timestamp: 1000, Trusted: true, Kind: KeyBackspace, Modifiers: Modifiers{Control: true}})
	src.KeyUp(KeyEvent{Timestamp: 1060, Trusted: true, Kind: KeyBackspace})

	s := o.Snapshot()
	assert.Equal(t, 1, s.Corrections)
	assert.Empty(t, s.Dwells)
	assert.Equal(t, 0, s.Total)
}

func TestCorrectionKinds(t *testing.T) {
	o, src := newStarted(t, 10)
	src.KeyDown(KeyEvent{Timestamp: 0, Trusted: true, Kind: KeyBackspace})
	src.KeyUp(up(50))
	src.KeyDown(KeyEvent{Timestamp: 100, Trusted: true, Kind: KeyDelete})
	src.KeyUp(up(150))
	src.Tap(200, 250)

	s := o.Snapshot()
	assert.Equal(t, 2, s.Corrections)
	assert.Equal(t, 3, s.Total)
}

// =============================================================================
// Signals
// =============================================================================

func TestSyntheticEventsAreCountedButCaptured(t *testing.T) {
	o, src := newStarted(t, 10)
	src.KeyDown(KeyEvent{Timestamp: 0})
	src.KeyUp(KeyEvent{Timestamp: 40})

	s := o.Snapshot()
	assert.Equal(t, 1, s.SyntheticEvents)
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, []float64{40}, s.Dwells)
}

func TestPasteIsSticky(t *testing.T) {
	o, src := newStarted(t, 10)
	src.Paste(PasteEvent{Timestamp: 5, Trusted: true})
	src.Tap(10, 60)
	assert.True(t, o.Snapshot().PasteDetected)

	o.Clear()
	assert.False(t, o.Snapshot().PasteDetected)
}

func TestInputWithinGraceIsAttributed(t *testing.T) {
	o, src := newStarted(t, 10)
	src.KeyDown(down(1000))
	src.Input(InputEvent{Timestamp: 1000 + InputGraceMs, Trusted: true})
	src.KeyUp(up(1080))

	s := o.Snapshot()
	assert.False(t, s.InputWithoutKeystrokes)
	assert.Equal(t, 0, s.InputWithoutKeystrokesCount)
}

func TestInputWithoutKeystrokeInvalidatesFlight(t *testing.T) {
	o, src := newStarted(t, 10)
	src.Tap(1000, 1050)

	// dictation commits text long after the last press
	src.Input(InputEvent{Timestamp: 3000, Trusted: true})
	src.Input(InputEvent{Timestamp: 3500, Trusted: true})

	src.Tap(4000, 4070)

	s := o.Snapshot()
	assert.True(t, s.InputWithoutKeystrokes)
	assert.Equal(t, 2, s.InputWithoutKeystrokesCount)
	assert.Empty(t, s.Flights, "flight against a stale release must not be recorded")
	assert.Equal(t, []float64{50, 70}, s.Dwells)
}

func TestInputBeforeAnyKeystroke(t *testing.T) {
	o, src := newStarted(t, 10)
	src.Input(InputEvent{Timestamp: 1, Trusted: true})
	assert.True(t, o.Snapshot().InputWithoutKeystrokes)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestStartIsIdempotent(t *testing.T) {
	src := NewSimulatedSource()
	o := New(src, 10)
	o.Start()
	o.Start()
	assert.Equal(t, 1, src.Subscribers())

	src.Tap(0, 30)
	assert.Equal(t, 1, o.Snapshot().Total, "a second Start must not double-deliver")
}

func TestStopDetachesAndKeepsState(t *testing.T) {
	o, src := newStarted(t, 10)
	src.Tap(0, 30)
	o.Stop()
	o.Stop()
	assert.False(t, o.Listening())
	assert.Equal(t, 0, src.Subscribers())

	src.Tap(100, 130)
	assert.Equal(t, 1, o.Snapshot().Total)
}

func TestClearKeepsListening(t *testing.T) {
	o, src := newStarted(t, 10)
	src.Tap(0, 30)
	src.Tap(100, 130)
	o.Clear()

	assert.True(t, o.Listening())
	assert.Equal(t, Snapshot{Dwells: []float64{}, Flights: []float64{}}, o.Snapshot())

	// no flight against the release seen before Clear
	src.Tap(500, 560)
	s := o.Snapshot()
	assert.Equal(t, []float64{60}, s.Dwells)
	assert.Empty(t, s.Flights)
}

func TestDestroy(t *testing.T) {
	o, src := newStarted(t, 10)
	src.Tap(0, 30)
	o.Destroy()

	assert.False(t, o.Listening())
	assert.Equal(t, 0, o.Snapshot().Total)
}

func TestActiveKeysFloorAtZero(t *testing.T) {
	o, src := newStarted(t, 10)
	// stray releases with no presses
	src.KeyUp(up(10))
	src.KeyUp(up(20))
	src.Tap(100, 150)
	src.Tap(200, 240)

	s := o.Snapshot()
	assert.Equal(t, 0, s.Rollovers)
	assert.Equal(t, []float64{80, 50}, s.Flights)
}

func TestOnKeystrokeHook(t *testing.T) {
	o, src := newStarted(t, 10)
	calls := 0
	o.OnKeystroke(func() {
		calls++
		// the hook may read state without deadlocking
		_ = o.Snapshot()
	})

	src.Tap(0, 40)
	src.Tap(100, 140)
	src.KeyDown(KeyEvent{Timestamp: 200, Trusted: true, Modifiers: Modifiers{Meta: true}})
	src.KeyUp(up(230))

	assert.Equal(t, 2, calls)
}

func TestIndependentObservers(t *testing.T) {
	srcA := NewSimulatedSource()
	srcB := NewSimulatedSource()
	a := New(srcA, 10)
	b := New(srcB, 10)
	a.Start()
	b.Start()

	srcA.Tap(0, 50)
	srcA.Tap(100, 150)

	assert.Equal(t, 2, a.Snapshot().Total)
	assert.Equal(t, 0, b.Snapshot().Total)
}

func TestReplay(t *testing.T) {
	o, src := newStarted(t, 10)
	src.Replay([]Event{
		{Type: EventKeyDown, Timestamp: 1000, Trusted: true},
		{Type: EventKeyUp, Timestamp: 1050, Trusted: true},
		{Type: EventPaste, Timestamp: 1060, Trusted: true},
		{Type: EventKeyDown, Timestamp: 1120, Trusted: true, Kind: KeyBackspace},
		{Type: EventKeyUp, Timestamp: 1160, Trusted: true, Kind: KeyBackspace},
	})

	s := o.Snapshot()
	assert.Equal(t, []float64{50, 40}, s.Dwells)
	assert.Equal(t, []float64{70}, s.Flights)
	assert.Equal(t, 1, s.Corrections)
	assert.True(t, s.PasteDetected)
}
