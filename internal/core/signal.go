package core

// Frame is a raw signaling payload already marshaled for the wire.
type Frame []byte

// SignalConnection abstracts the per-participant duplex signaling transport.
// Sends are serialized by the implementation: frames handed to TrySend are
// written to the wire one at a time, in order, never interleaved.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
