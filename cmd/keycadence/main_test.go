package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycadence/internal/clock"
	"keycadence/internal/observer"
	"keycadence/internal/synth"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"human", "constant"}, splitList(" human, ,constant "))
	assert.Nil(t, splitList(""))
}

func TestReplayPacedRestampsOntoClock(t *testing.T) {
	p, err := synth.Lookup("constant")
	require.NoError(t, err)
	events := synth.Generate(p, 10, 1)

	src := observer.NewSimulatedSource()
	var stamps []float64
	src.Subscribe(observer.Handlers{
		KeyUp: func(ev observer.KeyEvent) { stamps = append(stamps, ev.Timestamp) },
	})

	clk := clock.NewMonotonic()
	start := clk.Now()
	require.True(t, replayPaced(context.Background(), src, clk, events, 100))

	require.Len(t, stamps, 10)
	assert.GreaterOrEqual(t, stamps[0], start)
	// 100 ms keystrokes at 100x speed are 1 ms apart.
	assert.InDelta(t, 1.0, stamps[1]-stamps[0], 1e-9)
}

func TestReplayPacedStopsOnCancel(t *testing.T) {
	p, err := synth.Lookup("human")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := observer.NewSimulatedSource()
	assert.False(t, replayPaced(ctx, src, clock.NewMonotonic(), synth.Generate(p, 20, 1), 1))
}

func TestReplayPacedEmpty(t *testing.T) {
	assert.True(t, replayPaced(context.Background(), observer.NewSimulatedSource(), clock.NewManual(0), nil, 1))
}
