package shared

import "errors"

// ErrUnauthenticated indicates a missing or rejected bearer token.
var ErrUnauthenticated = errors.New("unauthenticated")
