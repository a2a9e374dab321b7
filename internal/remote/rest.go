// Package remote holds the bundled SyncHandler implementations that replay
// queued mutations against real backends.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"offlinesync/internal/config"
	"offlinesync/internal/handlers"
	"offlinesync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// StatusError is returned when the remote answers with a non-2xx status.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// RESTClient is shared by every REST-bound module.
type RESTClient struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// NewRESTClient builds the outbound client. When OAuth2 is enabled the
// client-credentials token is fetched and refreshed transparently. A base
// http.Client may be supplied through ctx under oauth2.HTTPClient.
func NewRESTClient(ctx context.Context, cfg config.RemoteConfig, logger *zerolog.Logger) (*RESTClient, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote base_url %q", cfg.BaseURL)
	}

	var client *http.Client
	if cfg.OAuth2.Enabled {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}
		client = cc.Client(ctx)
	} else if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c != nil {
		shallow := *c
		client = &shallow
	} else {
		client = &http.Client{}
	}
	client.Timeout = cfg.Timeout

	var limiter *rate.Limiter
	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}

	return &RESTClient{base: base, http: client, limiter: limiter, logger: logger}, nil
}

// Handler returns a SyncHandler for module rooted at path under the base URL.
func (c *RESTClient) Handler(module, path string) *RESTHandler {
	return &RESTHandler{client: c, module: module, path: strings.Trim(path, "/")}
}

// RESTHandler maps create to POST {base}/{path}, update to PATCH
// {base}/{path}/{id} and delete to DELETE {base}/{path}/{id}.
type RESTHandler struct {
	client *RESTClient
	module string
	path   string
}

var _ handlers.SyncHandler = (*RESTHandler)(nil)

func (h *RESTHandler) Module() string { return h.module }

func (h *RESTHandler) Apply(ctx context.Context, rec models.QueueRecord) error {
	switch rec.Action {
	case models.ActionCreate:
		return h.client.do(ctx, http.MethodPost, h.path, rec.ID, rec.Payload)

	case models.ActionUpdate:
		id, err := rec.EntityID()
		if err != nil {
			return fmt.Errorf("update %s: %w", rec.ID, err)
		}
		var upd models.UpdatePayload
		if err := json.Unmarshal(rec.Payload, &upd); err != nil {
			return fmt.Errorf("decode update payload: %w", err)
		}
		body := upd.Updates
		if len(body) == 0 {
			body = json.RawMessage("{}")
		}
		return h.client.do(ctx, http.MethodPatch, h.path+"/"+url.PathEscape(id), rec.ID, body)

	case models.ActionDelete:
		id, err := rec.EntityID()
		if err != nil {
			return fmt.Errorf("delete %s: %w", rec.ID, err)
		}
		err = h.client.do(ctx, http.MethodDelete, h.path+"/"+url.PathEscape(id), rec.ID, nil)
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			// already gone remotely
			return nil
		}
		return err

	default:
		return fmt.Errorf("unsupported action %q", rec.Action)
	}
}

func (c *RESTClient) do(ctx context.Context, method, path, idempotencyKey string, body []byte) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	target := c.base.String() + "/" + path
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Debug().Str("method", method).Str("url", target).Int("status", resp.StatusCode).Msg("remote write applied")
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Method: method,
		URL:    target,
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(snippet)),
	}
}
