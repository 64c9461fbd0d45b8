package study

import "fmt"

// ActionKind names a user interaction reported by the panel.
type ActionKind string

const (
	ActionPrimary        ActionKind = "action"
	ActionDismiss        ActionKind = "dismiss"
	ActionAutoDismiss    ActionKind = "auto-dismiss"
	ActionInfo           ActionKind = "info"
	ActionDontShowChange ActionKind = "dont-show-change"
)

// Auto-dismiss reasons produced by the host bridge.
const (
	ReasonTimeout       = "timeout"
	ReasonSurfaceClosed = "surface-closed"
)

// UserAction is one interaction with the panel. Checked is meaningful for
// dont-show-change and Reason for auto-dismiss. Session, when set, names
// the panel the action was taken on.
type UserAction struct {
	Kind    ActionKind `json:"type"`
	Checked bool       `json:"checked,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Session string     `json:"session,omitempty"`
}

// ParseActionKind validates an action name.
func ParseActionKind(name string) (ActionKind, error) {
	switch k := ActionKind(name); k {
	case ActionPrimary, ActionDismiss, ActionAutoDismiss, ActionInfo, ActionDontShowChange:
		return k, nil
	}
	return "", fmt.Errorf("unknown panel action: %q", name)
}
