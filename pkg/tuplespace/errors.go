package tuplespace

import "errors"

var (
	ErrConnectFailed  = errors.New("tuplespace: connect failed")
	ErrUnknownSpace   = errors.New("tuplespace: unknown space")
	ErrDuplicateName  = errors.New("tuplespace: space name already registered")
	ErrRemoteFailure  = errors.New("tuplespace: remote operation failed")
	ErrSpaceClosed    = errors.New("tuplespace: space closed")
	ErrInvalidURI     = errors.New("tuplespace: invalid connection uri")
	ErrInvalidTuple   = errors.New("tuplespace: invalid tuple")
	ErrInvalidPattern = errors.New("tuplespace: invalid pattern")

	// ErrWatchNotCancellable is returned by LocalSpace.Watch for a context
	// that can never be done.
	ErrWatchNotCancellable = errors.New("tuplespace: watch context cannot be cancelled")
)
