package trace

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keycadence/internal/observer"
	"keycadence/internal/synth"
)

const sampleJSON = `{
  "version": 1,
  "source": "fixture",
  "events": [
    {"type": "keydown", "timestamp_ms": 1000},
    {"type": "keyup", "timestamp_ms": 1090},
    {"type": "keydown", "timestamp_ms": 1200, "kind": "backspace"},
    {"type": "keyup", "timestamp_ms": 1280, "kind": "backspace"},
    {"type": "keydown", "timestamp_ms": 1300, "modifiers": {"control": true}},
    {"type": "paste", "timestamp_ms": 1310},
    {"type": "keydown", "timestamp_ms": 1500, "trusted": false}
  ]
}`

const sampleYAML = `
version: 1
source: fixture
events:
  - type: keydown
    timestamp_ms: 1000
  - type: keyup
    timestamp_ms: 1090
  - type: keydown
    timestamp_ms: 1200
    kind: backspace
  - type: keyup
    timestamp_ms: 1280
    kind: backspace
  - type: keydown
    timestamp_ms: 1300
    modifiers:
      control: true
  - type: paste
    timestamp_ms: 1310
  - type: keydown
    timestamp_ms: 1500
    trusted: false
`

func TestParseFormatsAgree(t *testing.T) {
	j, err := Parse([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	y, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, j.ObserverEvents(), y.ObserverEvents())
	assert.Equal(t, Fingerprint(j), Fingerprint(y))
	assert.Equal(t, "fixture", j.Source)
}

func TestObserverEvents(t *testing.T) {
	doc, err := Parse([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)

	evs := doc.ObserverEvents()
	require.Len(t, evs, 7)

	assert.Equal(t, observer.EventKeyDown, evs[0].Type)
	assert.True(t, evs[0].Trusted, "trusted defaults to true")
	assert.Equal(t, observer.KeyBackspace, evs[2].Kind)
	assert.True(t, evs[4].Modifiers.Control)
	assert.Equal(t, observer.EventPaste, evs[5].Type)
	assert.False(t, evs[6].Trusted)
}

func TestSchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"wrong version", `{"version": 2, "events": []}`},
		{"missing events", `{"version": 1}`},
		{"unknown type", `{"version": 1, "events": [{"type": "click", "timestamp_ms": 1}]}`},
		{"negative time", `{"version": 1, "events": [{"type": "keyup", "timestamp_ms": -1}]}`},
		{"key identity", `{"version": 1, "events": [{"type": "keyup", "timestamp_ms": 1, "key": "a"}]}`},
		{"bad kind", `{"version": 1, "events": [{"type": "keyup", "timestamp_ms": 1, "kind": "enter"}]}`},
		{"not json", `{"version": 1,`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatJSON)
			assert.ErrorIs(t, err, ErrInvalidTrace)
		})
	}
}

func TestParseRejectsOutOfOrder(t *testing.T) {
	doc := `{"version": 1, "events": [
		{"type": "keydown", "timestamp_ms": 200},
		{"type": "keyup", "timestamp_ms": 100}
	]}`
	_, err := Parse([]byte(doc), FormatJSON)
	require.ErrorIs(t, err, ErrInvalidTrace)
	assert.Contains(t, err.Error(), "precedes")
}

func TestValidateYAMLRejects(t *testing.T) {
	err := Validate([]byte("version: 1\nevents:\n  - type: keydown\n"), FormatYAML)
	assert.ErrorIs(t, err, ErrInvalidTrace)

	err = Validate([]byte("version: [1\n"), FormatYAML)
	assert.ErrorIs(t, err, ErrInvalidTrace)
}

func TestUnknownFormat(t *testing.T) {
	_, err := Parse([]byte(sampleJSON), Format("xml"))
	assert.Error(t, err)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("a.yaml"))
	assert.Equal(t, FormatYAML, FormatFor("a.YML"))
	assert.Equal(t, FormatJSON, FormatFor("a.json"))
	assert.Equal(t, FormatJSON, FormatFor("trace"))
}

func TestSaveLoadGenerated(t *testing.T) {
	p, err := synth.Lookup("human")
	require.NoError(t, err)
	events := synth.Generate(p, 60, 11)
	doc := FromEvents("synth:human", events)

	dir := t.TempDir()
	for _, name := range []string{"t.json", "t.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, Save(path, doc))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, Fingerprint(doc), Fingerprint(loaded))
			assert.Equal(t, len(events), len(loaded.ObserverEvents()))
			assert.Equal(t, synth.Keystrokes(events), synth.Keystrokes(loaded.ObserverEvents()))
		})
	}
}

func TestFromEventsRoundTrip(t *testing.T) {
	in := []observer.Event{
		{Type: observer.EventKeyDown, Timestamp: 10, Trusted: true, Kind: observer.KeyDelete},
		{Type: observer.EventKeyUp, Timestamp: 60, Trusted: true, Kind: observer.KeyDelete},
		{Type: observer.EventKeyDown, Timestamp: 70, Trusted: true, Repeat: true, Modifiers: observer.Modifiers{Shift: true}},
		{Type: observer.EventInput, Timestamp: 90},
	}
	doc := FromEvents("", in)
	assert.Equal(t, in, doc.ObserverEvents())

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, doc, FormatJSON))
	require.NoError(t, Validate(buf.Bytes(), FormatJSON))
}

func TestFingerprintSensitivity(t *testing.T) {
	a := FromEvents("a", []observer.Event{{Type: observer.EventKeyDown, Timestamp: 1, Trusted: true}})
	b := FromEvents("b", []observer.Event{{Type: observer.EventKeyDown, Timestamp: 1, Trusted: true}})
	c := FromEvents("a", []observer.Event{{Type: observer.EventKeyDown, Timestamp: 2, Trusted: true}})

	assert.Equal(t, Fingerprint(a), Fingerprint(b), "source is not part of the fingerprint")
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
	assert.Len(t, Fingerprint(a), 64)
}

func TestReplay(t *testing.T) {
	doc, err := Parse([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)

	src := observer.NewSimulatedSource()
	obs := observer.New(src, observer.DefaultWindowSize)
	obs.Start()
	defer obs.Destroy()

	doc.Replay(src)
	snap := obs.Snapshot()
	assert.Equal(t, 1, snap.Corrections)
	assert.True(t, snap.PasteDetected)
	assert.Equal(t, 1, snap.SyntheticEvents)
}
