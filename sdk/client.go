package sdk

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

	"github.com/google/uuid"

	"research/internals/env"
	"research/internals/schemas"
)

// Client talks to the remote interactions service. It performs no implicit
// retries; retry policy lives with the caller.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var ErrMissingAPIKey = errors.New("missing api key")

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithAPIKey(apiKey string) Option {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(opts ...Option) *Client {
	envs := env.Get()
	client := &Client{
		baseURL: strings.TrimRight(envs.API_BASE_URL, "/"),
		apiKey:  envs.API_KEY,
		// No client-wide timeout: interactions run for minutes and the
		// event feed stays open the whole time. Deadlines come from the
		// per-call context.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type interactionPayload struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Report  string `json:"report"`
	Error   string `json:"error"`
	Outputs []struct {
		Text string `json:"text"`
	} `json:"outputs"`
}

func (p *interactionPayload) toInteraction() *schemas.Interaction {
	report := p.Report
	if report == "" && len(p.Outputs) > 0 {
		var parts []string
		for _, output := range p.Outputs {
			if output.Text != "" {
				parts = append(parts, output.Text)
			}
		}
		report = strings.Join(parts, "")
	}
	return &schemas.Interaction{
		ID:          p.ID,
		Status:      schemas.ParseRemoteStatus(p.Status),
		Report:      report,
		ErrorDetail: p.Error,
	}
}

// CreateInteraction submits a query and returns the remote interaction id
// plus the service's initial status.
func (c *Client) CreateInteraction(ctx context.Context, request schemas.InteractionRequest) (*schemas.Interaction, error) {
	if strings.TrimSpace(request.Query) == "" {
		return nil, errors.New("query must not be empty")
	}
	if strings.TrimSpace(request.Model) == "" {
		return nil, errors.New("model must not be empty")
	}
	if c.apiKey == "" {
		return nil, &APIError{StatusCode: 401, Kind: ErrorKindAuth, Code: "missing_api_key", Message: ErrMissingAPIKey.Error()}
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/interactions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, responseError(resp)
	}

	var payload interactionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("service returned no interaction id")
	}
	return payload.toInteraction(), nil
}

// GetInteraction fetches the authoritative status and, once completed, the
// final report payload.
func (c *Client) GetInteraction(ctx context.Context, interactionID string) (*schemas.Interaction, error) {
	path := "/interactions/" + url.PathEscape(interactionID)
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var payload interactionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.toInteraction(), nil
}

// StreamInteraction opens the long-lived event feed for an interaction. The
// returned stream is single-use; it cannot be restarted after a disconnect.
func (c *Client) StreamInteraction(ctx context.Context, interactionID string) (*Stream, error) {
	path := "/interactions/" + url.PathEscape(interactionID) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return newStream(ctx, resp.Body), nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)
	return c.httpClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
}

func responseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Kind: classifyStatus(resp.StatusCode, "")}
	}

	var payload ErrorResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Kind: classifyStatus(resp.StatusCode, "")}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Kind:       classifyStatus(resp.StatusCode, payload.Code),
		Code:       payload.Code,
		Message:    payload.Message,
	}
}
