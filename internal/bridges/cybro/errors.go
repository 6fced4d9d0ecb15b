package cybro

import "errors"

// Domain errors for the Cybro bridge package.
var (
	// ErrInvalidOptions is returned by NewBridge when a required
	// dependency or setting is missing.
	ErrInvalidOptions = errors.New("cybro: invalid bridge options")

	// ErrDiscoveryFailed wraps failures publishing discovery configs.
	ErrDiscoveryFailed = errors.New("cybro: discovery publish failed")

	// ErrNotReady is returned by operations that need the entity set
	// before the first successful poll has built it.
	ErrNotReady = errors.New("cybro: entities not set up yet")
)
