package api

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"offlinesync/internal/config"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"

	PermReadQueue    = "read:queue"
	PermWriteQueue   = "write:queue"
	PermSync         = "sync"
	PermReadHistory  = "read:history"
	PermWriteHistory = "write:history"
)

var (
	errMissingHeaders   = errors.New("missing api key headers")
	errInvalidAPIKey    = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg, clients: indexClients(cfg.Auth.APIKeys), limiter: newRateLimiter(cfg.RateLimit)}
}

func indexClients(keys []config.APIClientKey) map[string]config.APIClientKey {
	m := make(map[string]config.APIClientKey, len(keys))
	for _, k := range keys {
		m[k.Key] = k
	}
	return m
}

// Wrap guards everything except the probe endpoints.
func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isProbePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func headerName(configured, fallback string) string {
	h := strings.ToLower(strings.TrimSpace(configured))
	if h == "" {
		return fallback
	}
	return h
}

func (a *HTTPAuth) apiKeyHeader() string {
	return headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault)
}

func (a *HTTPAuth) extraHeader() string {
	return headerName(a.cfg.Auth.HeaderExtra, apiExtraHeaderDefault)
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader()))
	extra := strings.TrimSpace(r.Header.Get(a.extraHeader()))

	client, err := lookupClient(a.clients, apiKey, extra)
	if err != nil {
		return err
	}
	return checkPermissions(client, requiredPermission(r))
}

// lookupClient resolves an api key and its extra secret to a configured client.
func lookupClient(clients map[string]config.APIClientKey, apiKey, extra string) (config.APIClientKey, error) {
	if apiKey == "" || extra == "" {
		return config.APIClientKey{}, errMissingHeaders
	}
	client, ok := clients[apiKey]
	if !ok {
		return config.APIClientKey{}, errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return config.APIClientKey{}, errInvalidExtra
	}
	return client, nil
}

// checkPermissions allows everything for keys without an explicit list.
func checkPermissions(client config.APIClientKey, required string) error {
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	path := strings.TrimSuffix(r.URL.Path, "/")
	write := r.Method != http.MethodGet && r.Method != http.MethodHead

	switch {
	case path == "/api/v1/sync":
		return PermSync
	case strings.HasPrefix(path, "/api/v1/history"):
		if write {
			return PermWriteHistory
		}
		return PermReadHistory
	case path == "/api/v1/queue":
		if write {
			return PermWriteQueue
		}
		return PermReadQueue
	case path == "/api/v1/status", path == "/api/v1/deadletter":
		return PermReadQueue
	}
	return ""
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}
	if !a.limiter.allow(a.clientKey(r)) {
		return errRateLimited
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func isProbePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}
