package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ragerrors "github.com/ragcore/ragcore/internal/errors"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/telemetry"
)

// HTTPConnector is a table-API ticket connector (grounded on
// ServiceNowConnector): token-flow-with-expiry auth (this repo's
// resolution of spec §9's Open Question — basic auth vs. token flow,
// see DESIGN.md), parameterized queries (never string-concatenated,
// per spec §6), and rate-limited dispatch via the shared
// llm.RateLimiter.
type HTTPConnector struct {
	baseURL  string
	table    string
	tokenURL string
	clientID string
	clientSecret string

	client  *http.Client
	limiter *llm.RateLimiter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewHTTPConnector builds a connector against baseURL's table API,
// authenticating against tokenURL with a client-credentials-shaped
// exchange. minInterval enforces the spacing between any two API
// calls, matching the original's 100ms `_enforce_rate_limit`.
func NewHTTPConnector(baseURL, table, tokenURL, clientID, clientSecret string, minInterval time.Duration, client *http.Client) *HTTPConnector {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if table == "" {
		table = "incident"
	}
	return &HTTPConnector{
		baseURL: strings.TrimSuffix(baseURL, "/"), table: table,
		tokenURL: tokenURL, clientID: clientID, clientSecret: clientSecret,
		client: client, limiter: llm.NewRateLimiter(0, minInterval),
	}
}

func (c *HTTPConnector) incidentEndpoint() string {
	return fmt.Sprintf("%s/api/now/table/%s", c.baseURL, c.table)
}

// TestConnection implements spec §6's test_connection()->bool.
func (c *HTTPConnector) TestConnection(ctx context.Context) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.incidentEndpoint(), url.Values{"sysparm_limit": {"1"}})
	if err != nil {
		return false, err
	}
	resp, err := c.do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// GetIncidents implements spec §6's get_incidents(filters, limit)->[record],
// validating identifier/number/date filters and parameterizing the
// query instead of string-concatenating it.
func (c *HTTPConnector) GetIncidents(ctx context.Context, filters Filters, limit int) (_ []Record, retErr error) {
	ctx, span := telemetry.Tracer().Start(ctx, "external.get_incidents",
		trace.WithAttributes(attribute.Int("external.limit", limit)))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
		}
		span.End()
	}()

	if limit < 1 || limit > 1000 {
		return nil, ragerrors.ValidationError(fmt.Sprintf("limit must be between 1 and 1000, got %d", limit), nil)
	}
	if err := validateFilters(filters); err != nil {
		return nil, err
	}

	params := url.Values{
		"sysparm_limit":                   {strconv.Itoa(limit)},
		"sysparm_display_value":           {"true"},
		"sysparm_exclude_reference_link":  {"true"},
	}
	if len(filters) > 0 {
		var clauses []string
		for k, v := range filters {
			clauses = append(clauses, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
		params.Set("sysparm_query", strings.Join(clauses, "^"))
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.incidentEndpoint(), params)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, ragerrors.APIError("failed to fetch incidents", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}

	var body struct {
		Result []Record `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, ragerrors.APIError("invalid response decoding incidents", err)
	}
	return body.Result, nil
}

// GetIncident implements spec §6's get_incident(id)->record.
func (c *HTTPConnector) GetIncident(ctx context.Context, sysID string) (Record, error) {
	if !ValidSysID(sysID) {
		return nil, ragerrors.ValidationError(fmt.Sprintf("invalid sys_id format: %s", sysID), nil)
	}
	params := url.Values{"sysparm_display_value": {"true"}, "sysparm_exclude_reference_link": {"true"}}
	req, err := c.newRequest(ctx, http.MethodGet, c.incidentEndpoint()+"/"+sysID, params)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, ragerrors.APIError(fmt.Sprintf("failed to fetch incident %s", sysID), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}

	var body struct {
		Result Record `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, ragerrors.APIError("invalid response decoding incident", err)
	}
	return body.Result, nil
}

func validateFilters(filters Filters) error {
	for k, v := range filters {
		switch {
		case k == "sys_id" && !ValidSysID(v):
			return ragerrors.ValidationError(fmt.Sprintf("invalid sys_id filter: %s", v), nil)
		case k == "number" && !ValidNumber(v):
			return ragerrors.ValidationError(fmt.Sprintf("invalid number filter: %s", v), nil)
		case strings.HasSuffix(k, "_date") && v != "":
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return ragerrors.ValidationError(fmt.Sprintf("invalid ISO-8601 date for %s: %s", k, v), err)
			}
		}
	}
	return nil
}

func (c *HTTPConnector) newRequest(ctx context.Context, method, rawURL string, params url.Values) (*http.Request, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	full := rawURL
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, full, nil)
	if err != nil {
		return nil, ragerrors.IntegrationError("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ragcore-external-scheduler/1.0")

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *HTTPConnector) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

// ensureAuthenticated implements the token-flow-with-expiry mechanism:
// a cached bearer token is reused until it is within a minute of
// expiring, at which point a fresh token is requested via a
// client-credentials-shaped POST to tokenURL.
func (c *HTTPConnector) ensureAuthenticated(ctx context.Context) error {
	if c.tokenURL == "" {
		return nil // connector configured for a backend that needs no token exchange
	}

	c.mu.Lock()
	valid := c.token != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute))
	c.mu.Unlock()
	if valid {
		return nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return ragerrors.AuthenticationError("failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return ragerrors.AuthenticationError("token request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ragerrors.AuthenticationError(fmt.Sprintf("token request returned status %d", resp.StatusCode), nil)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ragerrors.AuthenticationError("invalid token response", err)
	}
	if body.ExpiresIn <= 0 {
		body.ExpiresIn = 3600
	}

	c.mu.Lock()
	c.token = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	c.mu.Unlock()
	return nil
}

func (c *HTTPConnector) errorFromResponse(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	msg := string(data)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ragerrors.AuthenticationError(fmt.Sprintf("authentication failed: %s", msg), nil)
	case http.StatusTooManyRequests:
		return ragerrors.APIError("rate limit exceeded", nil)
	default:
		return ragerrors.APIError(fmt.Sprintf("API error (%d): %s", resp.StatusCode, msg), nil)
	}
}
