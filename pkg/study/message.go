package study

const (
	PrimaryButtonLabel   = "Tell Me More"
	SecondaryButtonLabel = "Not Now"
)

// Message is the copy shown on the recommendation panel.
type Message struct {
	Header string `yaml:"header" json:"header"`
	Text   string `yaml:"text" json:"text"`
}

// DefaultMessages is the panel copy per branch. Control never shows a panel
// and has no entry.
var DefaultMessages = map[Variation]Message{
	VariationCaptivePortal: {
		Header: "Using public Wi-Fi?",
		Text:   "Public networks can expose what you do online. A VPN encrypts your connection wherever you are.",
	},
	VariationPrivacyHostname: {
		Header: "Take your privacy further",
		Text:   "A VPN hides your location and encrypts your traffic, even on networks you don't control.",
	},
	VariationStreamingHostname: {
		Header: "Stream more securely",
		Text:   "A VPN keeps your connection private while you watch, at home or on the go.",
	},
	VariationCatchAll: {
		Header: "Recommendation",
		Text:   "Make Firefox Even More Secure with CyberVPN",
	},
}

// MessageTable resolves panel copy, falling back to DefaultMessages.
type MessageTable map[Variation]Message

// Lookup returns the message for the branch.
func (t MessageTable) Lookup(v Variation) (Message, bool) {
	if msg, ok := t[v]; ok && msg.Header != "" {
		return msg, true
	}
	msg, ok := DefaultMessages[v]
	return msg, ok
}
