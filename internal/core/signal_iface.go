package core

// Frame is a raw relay payload (one JSON envelope).
type Frame []byte

type SessionID string

// SignalConnection abstracts for a relay messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
