package worker

import "errors"

var errPanicked = errors.New("task panicked")
