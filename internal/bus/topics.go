package bus

// Local state topics.
const (
	TopicAgentRunUpserted    = "agent.run.upserted"
	TopicAgentRunStopped     = "agent.run.stopped"
	TopicAgentContextUpdated = "agent.context.updated"
	TopicNextUpChanged       = "nextup.changed"
	TopicSnapshotUpdated     = "snapshot.updated"
	TopicStoreCorrupt        = "store.corrupt"
)

// Outbox topics.
const (
	TopicOutboxAppended = "outbox.appended"
	TopicOutboxFlushed  = "outbox.flushed"
	// TopicOutboxChanged is published by the directory watcher for writes made
	// by any process, not just this one.
	TopicOutboxChanged = "outbox.changed"
)

// AgentRunEvent is published when a run record is written.
type AgentRunEvent struct {
	RunID   string
	AgentID string
	Status  string
}

// AgentContextEvent is published when an agent's launch scope changes.
type AgentContextEvent struct {
	AgentID      string
	InitiativeID string
	WorkstreamID string
	TaskID       string
}

// NextUpEvent is published after any change to the pin list.
type NextUpEvent struct {
	PinCount int
}

// SnapshotEvent is published after the cached snapshot is replaced.
type SnapshotEvent struct {
	Initiatives int
	ActiveTasks int
}

// StoreCorruptEvent is published when a file failed to parse and was moved aside.
type StoreCorruptEvent struct {
	Path       string
	BackupPath string
}

// OutboxEvent is published for appends, flushes, and watcher notifications.
type OutboxEvent struct {
	SessionID string
	EventID   string // empty for flush/watch notifications
	Remaining int
}
