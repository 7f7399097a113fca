package roundsim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/erichli1/acamafia/internal/domain/model"
	"github.com/erichli1/acamafia/pkg/logger"
)

// Client issues API calls as a chosen identity.
type Client struct {
	base       string
	adminToken string
	http       *http.Client
}

// NewClient creates a client for cfg.
func NewClient(cfg *Config) *Client {
	return &Client{
		base:       cfg.BaseURL,
		adminToken: cfg.AdminToken,
		http:       &http.Client{Timeout: cfg.Timeout},
	}
}

// StatusError reports an unexpected response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// do sends body as JSON and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, method, path, email string, admin bool, body, out any) error {
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		req.Header.Set("X-User-Email", email)
	}
	if admin && c.adminToken != "" {
		req.Header.Set("X-Admin-Token", c.adminToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// Health checks that the service answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", false, nil, nil)
}

// Reset resets the round.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/admin/reset", "", true, nil, nil)
}

// RegisterRep affiliates email with group.
func (c *Client) RegisterRep(ctx context.Context, email, group string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/admin/affiliations", "", true, model.Affiliation{Email: email, Group: group}, nil)
}

// SetDelay configures the announcement delay.
func (c *Client) SetDelay(ctx context.Context, cfg model.DelayConfig) error {
	return c.do(ctx, http.MethodPut, "/api/v1/admin/delay", "", true, cfg, nil)
}

// Submit files sub's preferences.
func (c *Client) Submit(ctx context.Context, sub Submission) error {
	return c.do(ctx, http.MethodPost, "/api/v1/compers", sub.Email, false, sub, nil)
}

// Decide records d as its group's representative.
func (c *Client) Decide(ctx context.Context, d Decision) error {
	body := map[string]any{"accept": d.Accept, "group": d.Group}
	path := "/api/v1/compers/" + url.PathEscape(d.Comper) + "/decision"
	return c.do(ctx, http.MethodPost, path, RepEmail(d.Group), false, body, nil)
}

// Feed returns every announcement, newest first.
func (c *Client) Feed(ctx context.Context) ([]model.UpdateEntry, error) {
	var resp struct {
		Updates []model.UpdateEntry `json:"updates"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/updates", "observer@roundsim.test", false, nil, &resp)
	return resp.Updates, err
}

// fanOut runs fn over items with workers goroutines and returns the number of
// failures. Stops early when ctx is done.
func fanOut[T any](ctx context.Context, workers int, items []T, verbose bool, fn func(context.Context, T) error) (failed int) {
	if workers < 1 {
		workers = 1
	}
	ch := make(chan T, workers*2)
	var (
		wg    sync.WaitGroup
		fails int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range ch {
				if err := fn(ctx, item); err != nil {
					atomic.AddInt64(&fails, 1)
					if verbose {
						logger.Get().Warn(ctx, "request failed", logger.Error(err))
					}
				}
			}
		}()
	}
	func() {
		defer close(ch)
		for _, item := range items {
			select {
			case <-ctx.Done():
				return
			case ch <- item:
			}
		}
	}()
	wg.Wait()
	return int(atomic.LoadInt64(&fails))
}
