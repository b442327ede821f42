package control

import "errors"

// ErrInvalidState means the operation is not permitted in the current
// runtime state: starting while not stopped, or injecting test danmu while
// ingestion is not running or test mode is off.
var ErrInvalidState = errors.New("operation not permitted in current runtime state")

// ErrConnect wraps upstream auth/network failures at connect time. The
// controller returns to stopped; the operator must start again.
var ErrConnect = errors.New("chat connection failed")
