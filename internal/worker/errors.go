package worker

import "errors"

var (
	ErrOffline        = errors.New("cannot sync while offline")
	ErrNothingPending = errors.New("nothing pending to sync")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrUnknownModule  = errors.New("no handler registered for module")
	ErrInvalidAction  = errors.New("invalid action")
)
