package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
)

// SyncTransport talks to the remote sync server
type SyncTransport interface {
	Push(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error)
	Pull(ctx context.Context, cursor *string, limit int) (*models.PullResponse, error)
}

// TransportError is a failed round-trip to the sync server
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transient reports whether the call may succeed when retried
func (e *TransportError) Transient() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// IsTransient reports whether err is a retryable transport failure
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Transient()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// TransportConfig configures the HTTP transport
type TransportConfig struct {
	BaseURL string
	// AccessToken is used as a static bearer token when TokenURL is empty
	AccessToken  string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// HTTPTransport implements SyncTransport over JSON/HTTP
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	logger     *observability.Logger
}

// NewHTTPTransport creates a transport authenticated through an oauth2 token source
func NewHTTPTransport(cfg TransportConfig, logger *observability.Logger) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base url: %w", err)
	}

	ctx := context.Background()
	var client *http.Client
	switch {
	case cfg.TokenURL != "":
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = cc.Client(ctx)
	case cfg.AccessToken != "":
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.AccessToken,
			TokenType:   "Bearer",
		}))
	default:
		client = &http.Client{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.Timeout = timeout

	return &HTTPTransport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: client,
		logger:     logger.WithField("component", "transport"),
	}, nil
}

// Push sends a batch of mutations
func (t *HTTPTransport) Push(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	var resp models.PushResponse
	if err := t.do(ctx, http.MethodPost, t.baseURL+"/v1/sync/push", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches one page of changes after cursor
func (t *HTTPTransport) Pull(ctx context.Context, cursor *string, limit int) (*models.PullResponse, error) {
	q := url.Values{}
	if cursor != nil {
		q.Set("cursor", *cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	endpoint := t.baseURL + "/v1/sync/pull"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var resp models.PullResponse
	if err := t.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	ctx, span := observability.StartClientSpan(ctx, method, endpoint)
	defer span.End()

	op := method + " " + endpoint

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		terr := &TransportError{Op: op, Err: err}
		observability.RecordError(span, terr)
		return terr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		terr := &TransportError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		t.logger.WithContext(ctx).Warnf("Sync server rejected %s with %d", op, resp.StatusCode)
		observability.RecordError(span, terr)
		return terr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		derr := fmt.Errorf("failed to decode response of %s: %w", op, err)
		observability.RecordError(span, derr)
		return derr
	}

	observability.SetSuccess(span)
	return nil
}
