package domain

import "errors"

// ErrRecordNotFound is returned when a queued record vanished, e.g. cleared mid-pass.
var ErrRecordNotFound = errors.New("queue record not found")
