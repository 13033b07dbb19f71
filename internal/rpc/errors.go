package rpc

import "errors"

// ErrInvalidRequest is the single rejection kind raised by the dispatcher:
// unparseable endpoint, unsupported method, unroutable path, undecodable
// query or body, or a path parameter of the wrong shape. It is terminal
// for the call; no handler runs after it is raised.
var ErrInvalidRequest = errors.New("invalid request")
