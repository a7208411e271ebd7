package ethereum

import "errors"

var (
	// ErrRead marks a source-chain query failure. Always retryable: the
	// caller keeps its cursor and tries again next cycle.
	ErrRead = errors.New("source chain read failed")

	// ErrWrite marks a destination-chain submission failure. Retryable
	// unless the relay coordinator classifies it as fatal.
	ErrWrite = errors.New("destination chain write failed")
)
