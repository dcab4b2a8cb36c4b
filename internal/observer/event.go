package observer

// KeyKind is the only key information the observer ever receives.
// It distinguishes correction keys from everything else and nothing more.
type KeyKind int

const (
	KeyOther     KeyKind = iota
	KeyBackspace         // delete-backward
	KeyDelete            // delete-forward
)

// IsCorrection reports whether the key semantically deletes text.
func (k KeyKind) IsCorrection() bool {
	return k == KeyBackspace || k == KeyDelete
}

func (k KeyKind) String() string {
	switch k {
	case KeyBackspace:
		return "backspace"
	case KeyDelete:
		return "delete"
	default:
		return "other"
	}
}

// Modifiers tracks which modifier keys were held when the event fired.
type Modifiers struct {
	Shift   bool `json:"shift,omitempty"`
	Control bool `json:"control,omitempty"`
	Alt     bool `json:"alt,omitempty"`
	Meta    bool `json:"meta,omitempty"` // macOS Cmd, Windows key
}

// Shortcut reports whether the combination marks a non-typing chord.
// Shift alone is ordinary typing.
func (m Modifiers) Shortcut() bool {
	return m.Control || m.Alt || m.Meta
}

// KeyEvent is a key press or release.
// Timestamp is in milliseconds on the session's monotonic clock.
type KeyEvent struct {
	Timestamp float64
	Trusted   bool // false for programmatically dispatched events
	Repeat    bool // auto-repeat of a held key
	Modifiers Modifiers
	Kind      KeyKind
}

// PasteEvent signals a clipboard paste into the observed field.
type PasteEvent struct {
	Timestamp float64
	Trusted   bool
}

// InputEvent signals that the observed field's value changed.
type InputEvent struct {
	Timestamp float64
	Trusted   bool
}

// Handlers receives events from an EventSource. Nil callbacks are skipped.
// Callbacks must not block: they run on the source's delivery path.
type Handlers struct {
	KeyDown func(KeyEvent)
	KeyUp   func(KeyEvent)
	Paste   func(PasteEvent)
	Input   func(InputEvent)
}

// EventSource is the platform abstraction the observer attaches to.
type EventSource interface {
	// Subscribe registers handlers and returns a function that removes them.
	Subscribe(h Handlers) (unsubscribe func())
}

// EventType names the four event kinds in recorded or generated streams.
type EventType string

const (
	EventKeyDown EventType = "keydown"
	EventKeyUp   EventType = "keyup"
	EventPaste   EventType = "paste"
	EventInput   EventType = "input"
)

// Event is a flattened form of any event kind, used for replay.
type Event struct {
	Type      EventType
	Timestamp float64
	Trusted   bool
	Repeat    bool
	Modifiers Modifiers
	Kind      KeyKind
}

// Key converts a key event back to its typed form.
func (e Event) Key() KeyEvent {
	return KeyEvent{
		Timestamp: e.Timestamp,
		Trusted:   e.Trusted,
		Repeat:    e.Repeat,
		Modifiers: e.Modifiers,
		Kind:      e.Kind,
	}
}
