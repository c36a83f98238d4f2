// Package upstream talks to the Tightlock data activation API on behalf of
// authenticated callers.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/geocoder89/connecthub/internal/cache"
	"github.com/geocoder89/connecthub/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	apiKeyHeader     = "X-API-Key"
	maxResponseBytes = 4 << 20
	schemasCacheKey  = "schemas"
)

// ErrUnavailable means no response could be obtained from the upstream.
var ErrUnavailable = errors.New("upstream unavailable")

// Response is an upstream reply passed through to the caller as is.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	SchemaCacheTTL time.Duration
	// MaxTries bounds attempts for idempotent calls. Zero means 3.
	MaxTries uint
	// Transport overrides the base round tripper, mainly for tests.
	Transport http.RoundTripper
}

type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	schemas  *cache.Cache[Response]
	maxTries uint
	prom     *observability.Prom
}

func New(cfg Config, prom *observability.Prom) *Client {
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	maxTries := cfg.MaxTries
	if maxTries == 0 {
		maxTries = 3
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
		schemas:  cache.New[Response](cfg.SchemaCacheTTL),
		maxTries: maxTries,
		prom:     prom,
	}
}

// Connect asks the upstream to verify connectivity. It is sent once: the
// upstream treats it as a POST.
func (c *Client) Connect(ctx context.Context) (Response, error) {
	return c.do(ctx, "connect", http.MethodPost, "/connect")
}

// Schemas lists the upstream's available schemas. Successful replies are
// cached briefly; transport errors and 5xx replies are retried.
func (c *Client) Schemas(ctx context.Context) (Response, error) {
	if res, ok := c.schemas.Get(schemasCacheKey); ok {
		return res, nil
	}

	attempt := 0
	res, err := backoff.Retry(ctx, func() (Response, error) {
		attempt++

		res, err := c.do(ctx, "schemas", http.MethodGet, "/schemas")
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, backoff.Permanent(err)
			}
			return Response{}, err
		}

		if res.StatusCode >= http.StatusInternalServerError {
			return res, fmt.Errorf("upstream status %d", res.StatusCode)
		}
		return res, nil
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Default().WarnContext(ctx, "upstream schemas retry", "attempt", attempt, "next_in", next.String(), "err", err)
		}),
	)

	if err != nil {
		// the last 5xx is still a real upstream answer
		if res.StatusCode != 0 {
			return res, nil
		}
		if errors.Is(err, ErrUnavailable) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if res.StatusCode == http.StatusOK {
		c.schemas.Set(schemasCacheKey, res)
	}

	return res, nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

func (c *Client) do(ctx context.Context, op, method, path string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return Response{}, backoff.Permanent(fmt.Errorf("build %s request: %w", op, err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		c.prom.ObserveUpstream(op, "error", time.Since(start))
		return Response{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.prom.ObserveUpstream(op, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read %s body: %w", ErrUnavailable, op, err)
	}

	return Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
