package console

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"paynow/pkg/httpx"
	"paynow/pkg/models"
)

// MetricsPoller fetches backend counters through the console on demand.
// A failed refresh leaves the last good snapshot in place.
type MetricsPoller struct {
	endpoint string
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	snapshot *models.MetricsSnapshot
	fetched  time.Time
	err      error
}

func NewMetricsPoller(consoleBase string, client *http.Client) *MetricsPoller {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &MetricsPoller{
		endpoint: strings.TrimRight(consoleBase, "/") + "/api/metrics",
		client:   client,
		now:      time.Now,
	}
}

// Refresh fetches a new snapshot. The ts query parameter defeats any cache
// between here and the console.
func (p *MetricsPoller) Refresh(ctx context.Context) (models.MetricsSnapshot, error) {
	url := p.endpoint + "?ts=" + strconv.FormatInt(p.now().UnixMilli(), 10)
	resp, err := httpx.Send(ctx, p.client, httpx.Request{
		Method: http.MethodGet,
		URL:    url,
		Header: http.Header{"Cache-Control": []string{"no-store"}, "Accept": []string{"application/json"}},
	})
	if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		err = &StatusError{Code: resp.StatusCode, Text: resp.StatusText()}
	}
	var snap models.MetricsSnapshot
	if err == nil {
		snap, err = models.ParseMetricsSnapshot(resp.Body)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.err = fmt.Errorf("refresh metrics: %w", err)
		return models.MetricsSnapshot{}, p.err
	}
	p.snapshot = &snap
	p.fetched = p.now()
	p.err = nil
	return snap, nil
}

// Snapshot returns the last good snapshot, the time it was fetched, and
// whether one exists.
func (p *MetricsPoller) Snapshot() (models.MetricsSnapshot, time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshot == nil {
		return models.MetricsSnapshot{}, time.Time{}, false
	}
	return *p.snapshot, p.fetched, true
}

// Err is the error from the most recent refresh, nil after a success.
func (p *MetricsPoller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
