package study

import "fmt"

// Variation is the experiment branch assigned to an installation.
type Variation string

const (
	VariationCaptivePortal     Variation = "captive-portal"
	VariationPrivacyHostname   Variation = "privacy-hostname"
	VariationStreamingHostname Variation = "streaming-hostname"
	VariationCatchAll          Variation = "catch-all"
	VariationControl           Variation = "control"
)

// Variations lists every branch in assignment order.
var Variations = []Variation{
	VariationCaptivePortal,
	VariationPrivacyHostname,
	VariationStreamingHostname,
	VariationCatchAll,
	VariationControl,
}

// ParseVariation validates a branch name.
func ParseVariation(name string) (Variation, error) {
	for _, v := range Variations {
		if string(v) == name {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown variation: %q", name)
}

// IsControl reports whether the branch shows nothing and subscribes nothing.
func (v Variation) IsControl() bool {
	return v == VariationControl
}

// TriggerKind returns the detection mechanism that belongs to the branch.
// The control branch has none.
func (v Variation) TriggerKind() (TriggerKind, bool) {
	if v.IsControl() {
		return "", false
	}
	return TriggerKind(v), true
}

func (v Variation) String() string {
	return string(v)
}

// TriggerKind identifies one detection mechanism. Every non-control
// variation has exactly one.
type TriggerKind string

const (
	TriggerCaptivePortal     = TriggerKind(VariationCaptivePortal)
	TriggerPrivacyHostname   = TriggerKind(VariationPrivacyHostname)
	TriggerStreamingHostname = TriggerKind(VariationStreamingHostname)
	TriggerCatchAll          = TriggerKind(VariationCatchAll)
)

// TriggerKinds lists every trigger kind.
var TriggerKinds = []TriggerKind{
	TriggerCaptivePortal,
	TriggerPrivacyHostname,
	TriggerStreamingHostname,
	TriggerCatchAll,
}

// ParseTriggerKind validates a trigger kind name.
func ParseTriggerKind(name string) (TriggerKind, error) {
	for _, k := range TriggerKinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown trigger kind: %q", name)
}

// Matches reports whether the trigger belongs to the given branch, i.e.
// whether firing it is a non-shadow evaluation.
func (k TriggerKind) Matches(v Variation) bool {
	return string(k) == string(v)
}

func (k TriggerKind) String() string {
	return string(k)
}
