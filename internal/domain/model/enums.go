package model

// ErrorKind classifies how a query failed.
type ErrorKind string

const (
	ErrorKindNone               ErrorKind = "none"
	ErrorKindNetworkUnreachable ErrorKind = "network_unreachable"
	ErrorKindUnknown            ErrorKind = "unknown"
)

// Priority is a scheduling hint for queued work. Higher values run first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityMedium Priority = 500
	PriorityHigh   Priority = 1000
)

// String returns a human-readable name for the priority tier.
func (p Priority) String() string {
	switch {
	case p >= PriorityHigh:
		return "high"
	case p >= PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}
