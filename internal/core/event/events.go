package event

// ObserverJoined is emitted when a transport accepts a client.
type ObserverJoined struct {
	ObserverID string
}

// ObserverLeft is emitted when a client's connection closes.
type ObserverLeft struct {
	ObserverID string
}

// ResyncRequested is emitted when a client reports its mirror diverged.
type ResyncRequested struct {
	ObserverID string
}
