package server

import "errors"

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen      = errors.New("listen")
	ErrAccept      = errors.New("accept")
	ErrConnRead    = errors.New("conn_read")
	ErrIdleTimeout = errors.New("idle_timeout")
	ErrContext     = errors.New("context_cancelled")
)
