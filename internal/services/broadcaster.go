package services

// Broadcaster is the transport-neutral publish interface services use to fan
// events out to session members. The realtime hub satisfies it; tests use a
// recording fake. Services never touch websocket primitives directly.
type Broadcaster interface {
	// Publish delivers an event to every member of the session.
	Publish(sessionID, event string, data any)
	// PublishExcept delivers an event to every member except one connection,
	// typically the originator.
	PublishExcept(sessionID, excludeConnID, event string, data any)
	// SendTo delivers an event to a single connection.
	SendTo(sessionID, connID, event string, data any)
	// CloseRoom tears down the transport room after a terminal broadcast.
	CloseRoom(sessionID string)
}

// NopBroadcaster discards all events. Useful for offline tooling and tests
// that do not assert on broadcast traffic.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(string, string, any)              {}
func (NopBroadcaster) PublishExcept(string, string, string, any) {}
func (NopBroadcaster) SendTo(string, string, string, any)       {}
func (NopBroadcaster) CloseRoom(string)                         {}
