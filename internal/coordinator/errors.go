package coordinator

import "errors"

var (
	// ErrUpdateFailed wraps every error returned by the data source.
	ErrUpdateFailed = errors.New("coordinator: update failed")

	// ErrNoUpdateFunc is returned by New when Config.Update is nil.
	ErrNoUpdateFunc = errors.New("coordinator: update function is required")
)
