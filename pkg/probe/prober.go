package probe

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	DefaultURL          = "http://detectportal.firefox.com/success.txt"
	DefaultExpectedBody = "success\n"
	DefaultInterval     = 10 * time.Second
	DefaultTimeout      = 3 * time.Second
	DefaultAttempts     = 3

	MinAttempts = 3
	MaxAttempts = 12
)

// ErrProbeInFlight is returned when a probe is requested while another one
// is still running.
var ErrProbeInFlight = errors.New("connectivity probe already in flight")

// Config controls the polling of the success-check endpoint
type Config struct {
	URL          string        `yaml:"url"`
	ExpectedBody string        `yaml:"expected_body"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	Attempts     int           `yaml:"attempts"`
}

// DefaultConfig returns the production probe settings.
func DefaultConfig() Config {
	return Config{
		URL:          DefaultURL,
		ExpectedBody: DefaultExpectedBody,
		Interval:     DefaultInterval,
		Timeout:      DefaultTimeout,
		Attempts:     DefaultAttempts,
	}
}

// Normalize fills zero values with defaults and clamps the attempt budget.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.ExpectedBody == "" {
		c.ExpectedBody = def.ExpectedBody
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	switch {
	case c.Attempts < MinAttempts:
		c.Attempts = MinAttempts
	case c.Attempts > MaxAttempts:
		c.Attempts = MaxAttempts
	}
	return c
}

// Result is the outcome of one probe run.
type Result struct {
	Success  bool
	Attempts int
	Elapsed  time.Duration
}

// Prober confirms real connectivity after a captive portal login. Only one
// run may be in flight at a time.
type Prober struct {
	client   *resty.Client
	cfg      Config
	inFlight atomic.Bool
}

// New creates a prober. The config is normalized.
func New(cfg Config) *Prober {
	cfg = cfg.Normalize()

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetRedirectPolicy(resty.NoRedirectPolicy()).
		SetHeader("Cache-Control", "no-cache").
		SetHeader("User-Agent", "vpn-recommendation-prober/1.0")

	return &Prober{
		client: client,
		cfg:    cfg,
	}
}

// Config returns the normalized settings.
func (p *Prober) Config() Config {
	return p.cfg
}

// InFlight reports whether a probe is currently running.
func (p *Prober) InFlight() bool {
	return p.inFlight.Load()
}

// Probe polls the endpoint every interval, the first poll one interval
// after the call, until a poll succeeds or the attempt budget is spent.
//
// When ctx is cancelled the run stops at the next suspension point and the
// result of any request still outstanding is discarded.
func (p *Prober) Probe(ctx context.Context) (Result, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrProbeInFlight
	}
	defer p.inFlight.Store(false)

	start := time.Now()
	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		select {
		case <-ctx.Done():
			return Result{Attempts: attempt - 1, Elapsed: time.Since(start)}, ctx.Err()
		case <-timer.C:
		}

		ok := p.check(ctx, attempt)
		if ctx.Err() != nil {
			return Result{Attempts: attempt, Elapsed: time.Since(start)}, ctx.Err()
		}
		if ok {
			return Result{Success: true, Attempts: attempt, Elapsed: time.Since(start)}, nil
		}

		timer.Reset(p.cfg.Interval)
	}

	return Result{Attempts: p.cfg.Attempts, Elapsed: time.Since(start)}, nil
}

// check performs one poll. The request itself is detached from ctx so an
// outstanding request runs to completion; the caller ignores its result
// after cancellation.
func (p *Prober) check(ctx context.Context, attempt int) bool {
	resp, err := p.client.R().
		SetContext(context.WithoutCancel(ctx)).
		Get(p.cfg.URL)
	if err != nil {
		logrus.Debugf("connectivity probe attempt %d/%d failed: %v", attempt, p.cfg.Attempts, err)
		return false
	}

	if resp.StatusCode() != http.StatusOK {
		logrus.Debugf("connectivity probe attempt %d/%d got status %d", attempt, p.cfg.Attempts, resp.StatusCode())
		return false
	}

	if string(resp.Body()) != p.cfg.ExpectedBody {
		logrus.Debugf("connectivity probe attempt %d/%d got unexpected body", attempt, p.cfg.Attempts)
		return false
	}

	logrus.Debugf("connectivity probe attempt %d/%d succeeded", attempt, p.cfg.Attempts)
	return true
}
