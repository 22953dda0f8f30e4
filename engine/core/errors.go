package core

import (
	"errors"
)

var (
	ErrFrameNotStarted     = errors.New("frame scope not open, BeginFrame was never called")
	ErrFrameAlreadyStarted = errors.New("frame scope already open")
	ErrUnknown             = errors.New("unknown")
)
