package connectivity

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Prober treats the remote as reachable when an HTTP GET to url gets any
// response below 500 within the timeout.
type Prober struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

func NewProber(url string, timeout time.Duration, client *http.Client) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{client: client, url: url, timeout: timeout}
}

func (p *Prober) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// StaticSource reports whatever was last Set, for embedding apps and tests.
type StaticSource struct {
	online atomic.Bool
}

func NewStaticSource(online bool) *StaticSource {
	s := &StaticSource{}
	s.online.Store(online)
	return s
}

func (s *StaticSource) Set(online bool) {
	s.online.Store(online)
}

func (s *StaticSource) Check(context.Context) bool {
	return s.online.Load()
}
