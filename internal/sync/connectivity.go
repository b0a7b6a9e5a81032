package sync

import (
	"context"
	"log"
	"net/http"
	"strings"
	stdsync "sync"
	"time"

	"github.com/farpomon/bca-app-sub013/internal/config"
)

// Monitor tracks cloud reachability by probing the API health endpoint.
// When the primary URL stops answering it fails over the client to the
// fallback URL, and when connectivity returns after an outage it fires
// the onOnline callback so queued work drains immediately.
type Monitor struct {
	cfg      config.CloudConfig
	client   *CloudClient
	interval time.Duration
	probe    *http.Client
	onOnline func()

	mu            stdsync.Mutex
	online        bool
	usingFallback bool
	lastProbeAt   time.Time
}

// NewMonitor creates a connectivity monitor. onOnline fires on every
// offline-to-online transition and may be nil.
func NewMonitor(cfg config.CloudConfig, client *CloudClient, interval time.Duration, onOnline func()) *Monitor {
	return &Monitor{
		cfg:      cfg,
		client:   client,
		interval: interval,
		probe:    &http.Client{Timeout: 5 * time.Second},
		onOnline: onOnline,
	}
}

// IsOnline reports the result of the most recent probe
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// UsingFallback reports whether traffic is routed via the fallback URL
func (m *Monitor) UsingFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usingFallback
}

// Start probes once immediately, then on the configured interval until
// ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.Probe(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}

// Probe checks the primary URL, then the fallback, and updates the
// online state. Returns the new state.
func (m *Monitor) Probe(ctx context.Context) bool {
	primaryUp := m.check(ctx, m.cfg.BaseURL)
	fallbackUp := false
	if !primaryUp && m.cfg.FallbackURL != "" {
		fallbackUp = m.check(ctx, m.cfg.FallbackURL)
	}

	m.mu.Lock()
	wasOnline := m.online
	m.online = primaryUp || fallbackUp
	m.lastProbeAt = time.Now().UTC()

	switch {
	case primaryUp && m.usingFallback:
		m.usingFallback = false
		m.client.UsePrimary()
		log.Printf("🌐 Primary cloud URL reachable again")
	case !primaryUp && fallbackUp && !m.usingFallback:
		m.usingFallback = true
		m.client.UseFallback()
	}
	nowOnline := m.online
	m.mu.Unlock()

	if nowOnline && !wasOnline {
		log.Printf("🌐 Cloud connectivity restored")
		if m.onOnline != nil {
			m.onOnline()
		}
	} else if !nowOnline && wasOnline {
		log.Printf("⚠️ Cloud unreachable, field node is offline")
	}
	return nowOnline
}

func (m *Monitor) check(ctx context.Context, baseURL string) bool {
	if baseURL == "" {
		return false
	}
	url := strings.TrimRight(baseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.probe.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
