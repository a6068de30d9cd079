package emit

// Broadcaster publishes workflow and alert updates onto a Bus using the
// wire shapes external consumers (dashboards, APIs) expect.
type Broadcaster struct {
	bus *Bus
}

// NewBroadcaster wraps bus.
func NewBroadcaster(bus *Bus) *Broadcaster {
	return &Broadcaster{bus: bus}
}

// PublishWorkflow broadcasts update on both the global workflows topic and
// the per-workflow topic.
func (b *Broadcaster) PublishWorkflow(update WorkflowUpdate) {
	b.bus.Publish(TopicWorkflows, update)
	b.bus.Publish(WorkflowTopic(update.WorkflowID), update)
}

// PublishAlert broadcasts msg on both the global alerts topic and the
// per-severity alert topic.
func (b *Broadcaster) PublishAlert(msg AlertMessage) {
	b.bus.Publish(TopicAlerts, msg)
	b.bus.Publish(AlertTopic(msg.Severity), msg)
}
