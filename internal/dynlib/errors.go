package dynlib

import "errors"

var errClosed = errors.New("dynlib: library handle closed")
