package domain

// Publisher fans an event out to every member of a topic.
type Publisher interface {
	// Publish delivers the event to all current members of topic. A failed
	// delivery tears down the failing member only; Publish itself reports
	// how many members were reached.
	Publish(topic string, event string, data any) int

	// PublishExcept behaves like Publish but skips one connection,
	// typically the sender of the triggering message.
	PublishExcept(topic string, exceptConnID string, event string, data any) int
}

// GroupManager manages topic membership for connections.
type GroupManager interface {
	Join(connID, topic string) error
	Leave(connID, topic string)
	Members(topic string) []string
}
