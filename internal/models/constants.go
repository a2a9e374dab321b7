package models

import "time"

const (
	// HistoryLimit is the number of replay passes kept in the history store.
	HistoryLimit = 10

	// QueueKey and HistoryKey name the two persisted entries of the key-value layout.
	QueueKey      = "offline_sync:queue"
	HistoryKey    = "offline_sync:history"
	DeadLetterKey = "offline_sync:deadletter"

	// DefaultSettleDelay is how long connectivity must hold before a restore triggers a drain.
	DefaultSettleDelay = time.Second

	// DefaultHandlerTimeout bounds a single handler invocation.
	DefaultHandlerTimeout = 30 * time.Second

	// DefaultProbeInterval is the connectivity probe period.
	DefaultProbeInterval = 5 * time.Second

	// DefaultProbeTimeout bounds one connectivity probe.
	DefaultProbeTimeout = 3 * time.Second
)

// Known producer modules. Handlers may be registered for any module name.
const (
	ModuleTickets            = "tickets"
	ModuleTechnicians        = "technicians"
	ModuleTechnicalResources = "technical_resources"
)
