package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nomidot/valtable/pkg/utils"
)

// ErrNoEndpoints is returned when a client has no endpoint to talk to.
var ErrNoEndpoints = errors.New("no endpoints configured")

// HTTPClient is a GraphQL-over-HTTP client with a circuit-breaker and token-bucket.
type HTTPClient struct {
	endpoints []string
	client    *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// OptsFromEnv reads client options from the environment.
//   - GRAPHQL_ENDPOINTS: comma separated endpoint list
//   - RPC_TIMEOUT: per request timeout (default: 15s)
//   - RPC_RPS / RPC_BURST: token bucket (default: 20 / 40)
func OptsFromEnv() Opts {
	return Opts{
		Endpoints: SplitEndpoints(utils.Env("GRAPHQL_ENDPOINTS", "")),
		Timeout:   utils.EnvDuration("RPC_TIMEOUT", 15*time.Second),
		RPS:       utils.EnvInt("RPC_RPS", 20),
		Burst:     utils.EnvInt("RPC_BURST", 40),
	}
}

// SplitEndpoints parses a comma separated endpoint list, dropping blanks.
func SplitEndpoints(raw string) []string {
	var out []string
	for _, ep := range strings.Split(raw, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			out = append(out, ep)
		}
	}
	return out
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &HTTPClient{
		endpoints:        utils.Dedup(o.Endpoints),
		client:           client,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

// refill refills the token-bucket with new tokens if necessary.
func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

// acquire takes a token from the bucket, waiting until one is available or ctx ends.
func (c *HTTPClient) acquire(ctx context.Context) error {
	for {
		c.refill()
		if atomic.AddInt64(&c.tokens, -1) >= 0 {
			return nil
		}
		atomic.AddInt64(&c.tokens, 1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refillEvery / 2):
		}
	}
}

// isOpen returns true if the endpoint's breaker is OPEN.
func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

// noteFailure marks an endpoint as failed and opens the circuit-breaker if the failure count exceeds the threshold.
func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

func (c *HTTPClient) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// graphQLRequest is the standard GraphQL-over-HTTP request body.
type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the standard GraphQL-over-HTTP response body.
type graphQLResponse struct {
	Data   json.RawMessage   `json:"data"`
	Errors []GraphQLErrorMsg `json:"errors"`
}

// GraphQLErrorMsg is a single entry of a GraphQL "errors" array.
type GraphQLErrorMsg struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// GraphQLError is returned when the server answered but reported errors.
type GraphQLError struct {
	Operation string
	Messages  []GraphQLErrorMsg
}

func (e *GraphQLError) Error() string {
	msgs := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		msgs = append(msgs, m.Message)
	}
	return fmt.Sprintf("graphql %s: %s", e.Operation, strings.Join(msgs, "; "))
}

// doGraphQL posts a query document to the configured endpoints and decodes the
// "data" member into out. Transport failures and 5xx responses fail over to
// the next endpoint; GraphQL errors are returned as *GraphQLError without
// trying other endpoints since they would answer the same.
func (c *HTTPClient) doGraphQL(ctx context.Context, operation, query string, vars map[string]any, out any) error {
	if len(c.endpoints) == 0 {
		return ErrNoEndpoints
	}

	b, mErr := json.Marshal(graphQLRequest{Query: query, OperationName: operation, Variables: vars})
	if mErr != nil {
		return mErr
	}

	var lastErr error
	for _, ep := range c.endpoints {
		// Skip endpoints whose breaker is OPEN.
		if c.isOpen(ep) {
			continue
		}

		if err := c.acquire(ctx); err != nil {
			return err
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(b))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.noteFailure(ep)
			continue
		}

		// From here on, always drain+close the body before continuing/returning.
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server %d", resp.StatusCode)
			c.noteFailure(ep)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("http %d", resp.StatusCode)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}

		var gqlResp graphQLResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&gqlResp)
		_ = utils.DrainAndClose(resp.Body)
		if decodeErr != nil {
			lastErr = fmt.Errorf("decode response: %w", decodeErr)
			continue
		}
		c.noteSuccess(ep)

		if len(gqlResp.Errors) > 0 {
			return &GraphQLError{Operation: operation, Messages: gqlResp.Errors}
		}
		if out != nil {
			if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
				return fmt.Errorf("graphql %s: empty data", operation)
			}
			if err := json.Unmarshal(gqlResp.Data, out); err != nil {
				return fmt.Errorf("graphql %s: unmarshal data: %w", operation, err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all endpoints unavailable (circuit open)")
	}
	return lastErr
}
