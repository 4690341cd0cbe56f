package fn

import "errors"

// ErrNotFound is returned by searching helpers when no element satisfies the
// given predicate.
var ErrNotFound = errors.New("no matching element found")
