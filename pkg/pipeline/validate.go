package pipeline

import (
	"fmt"
	"strings"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
)

// ValidateWiring validates that the study is correctly wired.
// It checks that:
// - Every variation with a positive weight has a registered trigger source
// - Every treatment variation with a positive weight has panel copy
//
// This catches common mistakes like:
// - Forgetting to register a source in builtin.RegisterSources
// - Typos in variation names in the messages section
func ValidateWiring(sources *signal.SourceRegistry, config *Config) error {
	var errors []string
	messages := config.MessageTable()

	for _, v := range study.Variations {
		if config.Study.Weights[string(v)] <= 0 {
			continue
		}

		kind, ok := v.TriggerKind()
		if !ok {
			continue
		}

		if sources.Get(kind) == nil {
			errors = append(errors, fmt.Sprintf("variation '%s' is weighted but no source is registered for it", v))
		}
		if _, ok := messages.Lookup(v); !ok {
			errors = append(errors, fmt.Sprintf("variation '%s' is weighted but has no panel message", v))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("study wiring validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
