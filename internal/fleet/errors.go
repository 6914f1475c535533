package fleet

import "errors"

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrBadStatus   = errors.New("unexpected response status")
	ErrDecode      = errors.New("malformed node response")
)
