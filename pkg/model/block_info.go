package model

// BlockInfo is supplied by the caller for every state-mutating operation so
// that all fee and epoch computations are deterministic and replay-safe: the
// engine never reads a wall clock.
type BlockInfo struct {
	Height uint64
	Epoch  uint64
	TimeMs uint64
}
