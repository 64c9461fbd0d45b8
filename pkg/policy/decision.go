package policy

// Decision is the result of evaluating one trigger event.
type Decision string

const (
	// DecisionShown opened a session and presented the panel.
	DecisionShown Decision = "shown"
	// DecisionShadow recorded history and telemetry without UI.
	DecisionShadow Decision = "shadow"
	// DecisionRateLimited stopped because the kind was shown within the window.
	DecisionRateLimited Decision = "rate-limited"
	// DecisionCapped stopped because the kind reached the notification cap.
	DecisionCapped Decision = "capped"
	// DecisionUnavailable stopped because no surface can show a panel.
	DecisionUnavailable Decision = "unavailable"
	// DecisionSessionOpen stopped because a panel is already on screen.
	DecisionSessionOpen Decision = "session-open"
	// DecisionRefused recorded history but the presenter refused the panel.
	DecisionRefused Decision = "refused"
	// DecisionClosed ignored the event because the engine was closed.
	DecisionClosed Decision = "closed"
	// DecisionError stopped because the preference store failed.
	DecisionError Decision = "error"
)

func (d Decision) String() string {
	return string(d)
}

// ShowsUI reports whether the decision put a panel on screen.
func (d Decision) ShowsUI() bool {
	return d == DecisionShown
}
