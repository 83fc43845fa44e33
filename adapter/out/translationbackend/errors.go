package translationbackend

import (
	"errors"
	"fmt"
)

// localError marks a failure that originates in this process — a bad
// request encoding, a malformed URL, an unparseable reply shape — rather
// than the remote backend being unavailable. Tripping a circuit breaker
// on these doesn't help: the next call fails the same way whether the
// breaker is open or closed.
type localError struct {
	err error
}

func (e *localError) Error() string { return e.err.Error() }
func (e *localError) Unwrap() error { return e.err }

func localErrorf(format string, args ...any) error {
	return &localError{err: fmt.Errorf(format, args...)}
}

func isLocalError(err error) bool {
	var le *localError
	return errors.As(err, &le)
}

// tripOnRemoteFault is the TripOn classifier shared by both backends: only
// count a failure toward the breaker's threshold when it isn't a local bug.
func tripOnRemoteFault(err error) bool {
	return err != nil && !isLocalError(err)
}
