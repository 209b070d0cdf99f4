package instrument

import "errors"

var (
	// ErrNilSwap is reported when a method spec carries no swap function.
	ErrNilSwap = errors.New("method spec has no swap function")

	// ErrNilTarget is reported when a method spec carries no target.
	ErrNilTarget = errors.New("method spec has no target")

	// ErrTargetShape is reported when a target does not match its
	// strategy's callable shape.
	ErrTargetShape = errors.New("target does not match strategy shape")

	// ErrUnknownStrategy is reported for a strategy value the registry
	// does not know.
	ErrUnknownStrategy = errors.New("unknown wrapper strategy")
)
