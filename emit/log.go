package emit

import "log/slog"

// LogSink mirrors every workflow and alert broadcast into structured logs,
// alongside whatever other subscribers the bus has. Useful for local
// development and as the always-on audit trail in production.
type LogSink struct {
	logger *slog.Logger
	bus    *Bus
	stop   chan struct{}
}

// NewLogSink subscribes to TopicWorkflows and TopicAlerts and logs every
// message through logger until Stop is called.
func NewLogSink(logger *slog.Logger, bus *Bus) *LogSink {
	s := &LogSink{logger: logger, bus: bus, stop: make(chan struct{})}
	workflows := bus.Subscribe(TopicWorkflows)
	alerts := bus.Subscribe(TopicAlerts)
	go s.run(workflows, alerts)
	return s
}

func (s *LogSink) run(workflows, alerts *Subscription) {
	for {
		select {
		case msg, ok := <-workflows.C():
			if !ok {
				return
			}
			if u, ok := msg.(WorkflowUpdate); ok {
				s.logger.Info("workflow_update",
					"workflow_id", u.WorkflowID,
					"status", u.Status,
					"current_step_index", u.CurrentStepIndex,
					"total_steps", u.TotalSteps,
					"error", u.Error,
				)
			}
		case msg, ok := <-alerts.C():
			if !ok {
				return
			}
			if a, ok := msg.(AlertMessage); ok {
				s.logger.Warn("alert",
					"id", a.ID,
					"severity", a.Severity,
					"type", a.Type,
					"title", a.Title,
				)
			}
		case <-s.stop:
			workflows.Unsubscribe()
			alerts.Unsubscribe()
			return
		}
	}
}

// Stop ends the sink's subscription goroutine.
func (s *LogSink) Stop() {
	close(s.stop)
}
