package builtin

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
)

// NavigationObserver reports top-level navigations on non-private
// browsing surfaces, including surfaces opened after the call.
type NavigationObserver interface {
	ObserveNavigations(fn func(surfaceID, rawURL string)) (remove func(), err error)
}

// HostnameSource fires when a navigation lands on a tracked root domain.
type HostnameSource struct {
	kind     study.TriggerKind
	domains  map[string]struct{}
	observer NavigationObserver
}

// NewHostnameSource creates a source for kind tracking the root domains of
// hostnames.
func NewHostnameSource(kind study.TriggerKind, hostnames []string, observer NavigationObserver) *HostnameSource {
	domains := make(map[string]struct{}, len(hostnames))
	for _, h := range hostnames {
		if root := RootDomain(h); root != "" {
			domains[root] = struct{}{}
		}
	}

	return &HostnameSource{
		kind:     kind,
		domains:  domains,
		observer: observer,
	}
}

func (s *HostnameSource) Kind() study.TriggerKind {
	return s.kind
}

func (s *HostnameSource) Subscribe(ctx context.Context, emit signal.Emit) (signal.Disposer, error) {
	if len(s.domains) == 0 {
		return nil, fmt.Errorf("no hostnames configured for %s", s.kind)
	}

	remove, err := s.observer.ObserveNavigations(func(surfaceID, rawURL string) {
		if !s.Matches(rawURL) {
			return
		}
		logrus.Debugf("%s navigation matched on surface %s", s.kind, surfaceID)
		emit(signal.NewTriggerEvent(s.kind, time.Now()))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to observe navigations: %w", err)
	}

	return func(ctx context.Context) error {
		remove()
		return nil
	}, nil
}

// Matches reports whether the URL's root domain is tracked.
func (s *HostnameSource) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	_, ok := s.domains[RootDomain(u.Hostname())]
	return ok
}

// RootDomain returns the registrable domain (eTLD+1) of host. IP addresses
// and hosts without a public suffix are returned as is.
func RootDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}

	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}
