package protocol

import "encoding/hex"

// Event is implemented by unsolicited driver reports.
type Event interface {
	Response
	EventKind() string
}

// EventHeader adds the report kind to the shared envelope.
type EventHeader struct {
	Envelope
	Kind string
}

func (h *EventHeader) EventKind() string {
	return h.Kind
}

// FoundChange is the payload shared by found-change and presence-change
// reports.
type FoundChange struct {
	After  string
	Before string
	Pid    string
	Tid    int
}

type FoundChangeEvent struct {
	EventHeader
	FoundChange
}

type PresenceChangeEvent struct {
	EventHeader
	FoundChange
	Authenticated bool
	Age           float64
	Remaining     float64
}

type GeneralErrorEvent struct {
	EventHeader
	Err string
}

// PatternEvent lists the confirmation patterns a band in provisioning mode
// is showing.
type PatternEvent struct {
	EventHeader
	Patterns []string
}

func (e *PatternEvent) PatternAt(index int) (string, bool) {
	if index < 0 || index >= len(e.Patterns) {
		return "", false
	}
	return e.Patterns[index], true
}

// PatternValueAt returns the pattern at index as its integer bitmask.
func (e *PatternEvent) PatternValueAt(index int) (int, bool) {
	pattern, ok := e.PatternAt(index)
	if !ok {
		return 0, false
	}
	value, err := PatternToInt(pattern)
	if err != nil {
		return 0, false
	}
	return value, true
}

type ProvisionedEvent struct {
	EventHeader
	Band NymiBandInfo
}

type RoamingAuthNonceEvent struct {
	EventHeader
	NymibandNonce string
}

func (e *RoamingAuthNonceEvent) NymibandNonceBytes() ([]byte, error) {
	return hex.DecodeString(e.NymibandNonce)
}

// ProvisionsChangedEvent carries the new provisions blob. The supervisor
// persists it before anyone else sees the event.
type ProvisionsChangedEvent struct {
	EventHeader
	Provisions string
}
