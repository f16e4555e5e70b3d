package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HTTPStore asks a signing endpoint for a download link:
// GET {base}/{directory}/{name} answers {"url": "..."}.
type HTTPStore struct {
	base   string
	client *http.Client
}

func NewHTTPStore(base string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{base: strings.TrimRight(base, "/"), client: client}
}

func (s *HTTPStore) Resolve(ctx context.Context, directory, name string) (string, error) {
	endpoint := s.base
	for _, part := range strings.Split(directory, "/") {
		if part != "" {
			endpoint += "/" + url.PathEscape(part)
		}
	}
	endpoint += "/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("assets: resolve %s/%s: %w", directory, name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assets: resolve %s/%s: status %d", directory, name, resp.StatusCode)
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("assets: resolve %s/%s: %w", directory, name, err)
	}
	if body.URL == "" {
		return "", fmt.Errorf("assets: resolve %s/%s: empty url", directory, name)
	}
	return body.URL, nil
}

// DirStore serves assets from a local directory tree as file:// URLs.
type DirStore struct {
	Root string
}

func (s DirStore) Resolve(ctx context.Context, directory, name string) (string, error) {
	p, err := filepath.Abs(filepath.Join(s.Root, filepath.FromSlash(directory), name))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("assets: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
}

// ProbeMonitor tracks reachability by periodically dialing a TCP address.
// It reports reachable until the first probe completes.
type ProbeMonitor struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	up       atomic.Bool
	log      zerolog.Logger
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewProbeMonitor(addr string, interval time.Duration, log zerolog.Logger) *ProbeMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m := &ProbeMonitor{
		addr:     addr,
		interval: interval,
		timeout:  2 * time.Second,
		log:      log,
		dial:     (&net.Dialer{}).DialContext,
	}
	m.up.Store(true)
	return m
}

func (m *ProbeMonitor) Reachable() bool { return m.up.Load() }

// Run probes until ctx is canceled.
func (m *ProbeMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.Probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Probe dials once and records the outcome.
func (m *ProbeMonitor) Probe(ctx context.Context) bool {
	dctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	conn, err := m.dial(dctx, "tcp", m.addr)
	up := err == nil
	if conn != nil {
		conn.Close()
	}
	if prev := m.up.Swap(up); prev != up {
		m.log.Info().Bool("reachable", up).Str("addr", m.addr).Msg("network reachability changed")
	}
	return up
}
