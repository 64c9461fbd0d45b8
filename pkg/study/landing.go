package study

import (
	"fmt"
	"net/url"
)

const (
	DefaultLandingURL  = "https://www.cybervpn.example/firefox"
	DefaultUTMSource   = "firefox-browser"
	DefaultUTMMedium   = "vpn-recommendation-doorhanger"
	DefaultUTMCampaign = "vpn-recommendation-study-1"
)

// LandingPage describes where the primary button leads.
type LandingPage struct {
	URL         string `yaml:"url"`
	UTMSource   string `yaml:"utm_source"`
	UTMMedium   string `yaml:"utm_medium"`
	UTMCampaign string `yaml:"utm_campaign"`
}

// DefaultLandingPage returns the production landing page settings.
func DefaultLandingPage() LandingPage {
	return LandingPage{
		URL:         DefaultLandingURL,
		UTMSource:   DefaultUTMSource,
		UTMMedium:   DefaultUTMMedium,
		UTMCampaign: DefaultUTMCampaign,
	}
}

// BuildURL merges the UTM parameters onto the base URL query. Merging runs
// left to right: parameters already on the base URL first, then source,
// medium, campaign and content. A later value replaces an earlier one with
// the same key.
func (l LandingPage) BuildURL(v Variation) (string, error) {
	base, err := url.Parse(l.URL)
	if err != nil {
		return "", fmt.Errorf("invalid landing page url %q: %w", l.URL, err)
	}

	query := MergeQuery(base.Query(), url.Values{
		"utm_source":   {l.UTMSource},
		"utm_medium":   {l.UTMMedium},
		"utm_campaign": {l.UTMCampaign},
		"utm_content":  {string(v)},
	})
	base.RawQuery = query.Encode()

	return base.String(), nil
}

// MergeQuery merges the given value sets left to right; later sets win on
// key collision. Empty values are skipped.
func MergeQuery(sets ...url.Values) url.Values {
	merged := url.Values{}
	for _, set := range sets {
		for key, values := range set {
			if len(values) == 0 || values[len(values)-1] == "" {
				continue
			}
			merged.Set(key, values[len(values)-1])
		}
	}
	return merged
}
