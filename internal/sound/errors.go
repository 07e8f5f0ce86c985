package sound

import "errors"

// Error kinds shared by the encoders, the scheduler and the container code.
// Callers match them with errors.Is; the wrapped message carries the detail.
var (
	ErrParse             = errors.New("parse error")
	ErrRange             = errors.New("value out of range")
	ErrDevice            = errors.New("device error")
	ErrOutOfMemory       = errors.New("out of memory")
	ErrFileIO            = errors.New("file i/o error")
	ErrInvalidFileFormat = errors.New("invalid file format")
)
