// Package crm is a Salesforce REST client limited to what the assistant
// needs: caller identification, lead lookups and appointment scheduling.
//
// All times sent to and read from Salesforce are UTC. Europe/Paris is only
// used to render times for the caller.
package crm

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/config"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/metrics"
	"github.com/festnoze/squad-ai-sub000/pkg/trace"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	// ErrNotAuthenticated is returned when no token could be obtained.
	ErrNotAuthenticated = errors.New("salesforce authentication failed")
	// ErrPastDate is returned when scheduling in the past.
	ErrPastDate = errors.New("appointment start is not in the future")
	// ErrSlotTaken is returned when an equivalent event already occupies
	// the slot.
	ErrSlotTaken = errors.New("appointment slot already booked")
)

// APIError is a non-2xx Salesforce answer.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("salesforce: status %d: %s", e.StatusCode, e.Body)
}

// Auth methods.
const (
	AuthJWT      = "jwt"
	AuthPassword = "password"
)

// Config holds the connection settings.
type Config struct {
	InstanceURL string
	AuthURL     string
	APIVersion  string
	AuthMethod  string
	ClientID    string
	// ClientSecret is used by the password flow.
	ClientSecret string
	Username     string
	Password     string
	// PrivateKeyPEM signs JWT-bearer assertions. FromConfig reads it from
	// SALESFORCE_PRIVATE_KEY_FILE.
	PrivateKeyPEM  []byte
	DefaultOwnerID string
}

// FromConfig maps the environment settings.
func FromConfig(cfg config.CRMConfig) (Config, error) {
	out := Config{
		InstanceURL:    cfg.InstanceURL,
		AuthURL:        cfg.AuthURL,
		APIVersion:     cfg.APIVersion,
		AuthMethod:     cfg.AuthMethod,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		Username:       cfg.Username,
		Password:       cfg.Password,
		DefaultOwnerID: cfg.DefaultOwnerID,
	}
	if cfg.AuthMethod == AuthJWT && cfg.PrivateKeyFile != "" {
		pem, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("read salesforce private key: %w", err)
		}
		out.PrivateKeyPEM = pem
	}
	return out, nil
}

// Client is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	latency    *metrics.Tracker
	privateKey *rsa.PrivateKey

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// mu serializes authentication and guards the token.
	mu          sync.Mutex
	token       string
	instanceURL string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithSleep replaces the wait between scheduling attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient validates cfg. It does not authenticate; the first request does.
func NewClient(cfg Config, latency *metrics.Tracker, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v60.0"
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://login.salesforce.com"
	}
	cfg.AuthURL = strings.TrimRight(cfg.AuthURL, "/")
	cfg.InstanceURL = strings.TrimRight(cfg.InstanceURL, "/")
	if cfg.AuthMethod == "" {
		cfg.AuthMethod = AuthJWT
	}

	c := &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logging.OrNop(logger).Named("salesforce"),
		latency:     latency,
		now:         time.Now,
		sleep:       sleepContext,
		instanceURL: cfg.InstanceURL,
	}

	switch cfg.AuthMethod {
	case AuthJWT:
		if cfg.ClientID == "" || cfg.Username == "" || len(cfg.PrivateKeyPEM) == 0 {
			return nil, errors.New("salesforce jwt auth needs client id, username and private key")
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse salesforce private key: %w", err)
		}
		c.privateKey = key
	case AuthPassword:
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.Username == "" || cfg.Password == "" {
			return nil, errors.New("salesforce password auth needs client id, client secret, username and password")
		}
	default:
		return nil, fmt.Errorf("unknown salesforce auth method %q", cfg.AuthMethod)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// Authenticate fetches a new access token.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	form := url.Values{}
	switch c.cfg.AuthMethod {
	case AuthJWT:
		assertion, err := c.assertion()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
		}
		form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
		form.Set("assertion", assertion)
	case AuthPassword:
		form.Set("grant_type", "password")
		form.Set("client_id", c.cfg.ClientID)
		form.Set("client_secret", c.cfg.ClientSecret)
		form.Set("username", c.cfg.Username)
		form.Set("password", c.cfg.Password)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL+"/services/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("%w: decode token response (status %d): %v", ErrNotAuthenticated, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || tok.AccessToken == "" {
		return fmt.Errorf("%w: status %d: %s %s", ErrNotAuthenticated, resp.StatusCode, tok.Error, tok.Description)
	}

	c.token = tok.AccessToken
	if tok.InstanceURL != "" {
		c.instanceURL = strings.TrimRight(tok.InstanceURL, "/")
	}
	c.logger.Info("authenticated", zap.String("method", c.cfg.AuthMethod), zap.String("instance", c.instanceURL))
	return nil
}

// assertion signs the JWT-bearer grant. Salesforce wants the login host as
// audience and a short expiry.
func (c *Client) assertion() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.cfg.ClientID,
		Subject:   c.cfg.Username,
		Audience:  jwt.ClaimStrings{c.cfg.AuthURL},
		ExpiresAt: jwt.NewNumericDate(now.Add(3 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
}

// session returns a valid token, authenticating when there is none.
func (c *Client) session(ctx context.Context) (token, instance string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		if err := c.authenticateLocked(ctx); err != nil {
			return "", "", err
		}
	}
	return c.token, c.instanceURL, nil
}

func (c *Client) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}

func (c *Client) apiPath(p string) string {
	return "/services/data/" + c.cfg.APIVersion + p
}

// send performs one REST call. A 401 drops the token and the call is
// retried once after re-authentication.
func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = b
	}

	backoff := retry.WithMaxRetries(1, retry.NewConstant(10*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		token, instance, err := c.session(ctx)
		if err != nil {
			return err
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, instance+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			c.invalidate(token)
			c.logger.Info("token rejected, re-authenticating")
			return retry.RetryableError(readAPIError(resp))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return readAPIError(resp)
		}
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode salesforce response: %w", err)
		}
		return nil
	})
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// instrument starts the span and latency timer of one operation.
func (c *Client) instrument(ctx context.Context, op, object string) (context.Context, func(error)) {
	ctx, span := trace.InstrumentCRMRequest(ctx, op, object)
	timer := c.latency.Start(metrics.OpCRM, op, metrics.Labels{Provider: "salesforce"})
	return ctx, func(err error) {
		timer.Done(err)
		if err != nil {
			trace.RecordError(span, err)
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				trace.SetAttributes(span, attribute.Int(trace.AttrHTTPStatus, apiErr.StatusCode))
			}
		}
		span.End()
	}
}

type queryResponse[T any] struct {
	TotalSize      int    `json:"totalSize"`
	Done           bool   `json:"done"`
	NextRecordsURL string `json:"nextRecordsUrl"`
	Records        []T    `json:"records"`
}

// query runs a SOQL query and follows nextRecordsUrl until done.
func query[T any](ctx context.Context, c *Client, soql string) ([]T, error) {
	path := c.apiPath("/query?q=" + url.QueryEscape(soql))
	var all []T
	for path != "" {
		var res queryResponse[T]
		if err := c.send(ctx, http.MethodGet, path, nil, &res); err != nil {
			return nil, err
		}
		all = append(all, res.Records...)
		if res.Done || res.NextRecordsURL == "" {
			break
		}
		path = res.NextRecordsURL
	}
	return all, nil
}

// quote renders a SOQL string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// soqlTime renders a SOQL datetime literal.
func soqlTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
