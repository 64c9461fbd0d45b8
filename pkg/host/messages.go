package host

// Server to surface message types.
const (
	TypePresent = "present"
	TypeDestroy = "destroy"
	TypeOpenURL = "open-url"
)

// Surface to server message types. Panel actions use the study.ActionKind
// names.
const (
	TypeNavigation         = "navigation"
	TypeCaptivePortalLogin = "captive-portal-login"
)

// Message is the WebSocket frame exchanged with a browsing surface.
type Message struct {
	Type    string `json:"type"`
	Header  string `json:"header,omitempty"`
	Text    string `json:"text,omitempty"`
	Primary string `json:"primary,omitempty"`
	Second  string `json:"secondary,omitempty"`
	Session string `json:"session,omitempty"`
	URL     string `json:"url,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Checked *bool  `json:"checked,omitempty"`
}
