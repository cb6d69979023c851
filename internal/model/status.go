package model

// Router liveness states.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Subscriber account states.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusExpired   = "expired"
)
