// Package hosted contains the HTTP clients for the hosted
// backend-as-a-service: the auth endpoints and the PostgREST-style row
// API. Every remote call is wrapped so transport faults come back as
// plain errors and service answers as *remote.Error.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"studiobook/internal/remote"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// token returns the access token for the current session, or ""
	// when anonymous; rows requests then run under the anon key alone.
	token func() string
}

func NewClient(baseURL, apiKey string, httpClient *http.Client, token func() string) *Client {
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		token:      token,
	}
}

func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

type requestSpec struct {
	method string
	path   string
	query  string
	body   any
	prefer string
	accept string
	bearer string // overrides the session token when set
}

func (c *Client) do(ctx context.Context, spec requestSpec) (int, []byte, error) {
	var body io.Reader
	if spec.body != nil {
		b, err := json.Marshal(spec.body)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}

	u := c.baseURL + spec.path
	if spec.query != "" {
		u += "?" + spec.query
	}

	req, err := http.NewRequestWithContext(ctx, spec.method, u, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	bearer := spec.bearer
	if bearer == "" {
		bearer = c.token()
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if spec.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if spec.prefer != "" {
		req.Header.Set("Prefer", spec.prefer)
	}
	if spec.accept != "" {
		req.Header.Set("Accept", spec.accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// decodeError turns a non-2xx service answer into a *remote.Error,
// keeping whatever of the structured shape the service filled in.
func decodeError(status int, data []byte) error {
	var payload struct {
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		ErrorField       string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
		Details          string `json:"details"`
		Hint             string `json:"hint"`
		Code             string `json:"code"`
	}
	_ = json.Unmarshal(data, &payload)

	msg := payload.Message
	if msg == "" {
		msg = payload.Msg
	}
	if msg == "" {
		msg = payload.ErrorDescription
	}
	if msg == "" {
		msg = payload.ErrorField
	}
	if msg == "" {
		msg = fmt.Sprintf("unexpected status: %d", status)
	}
	code := payload.Code
	if code == "" {
		code = payload.ErrorCode
	}
	return &remote.Error{
		Message: msg,
		Details: payload.Details,
		Hint:    payload.Hint,
		Code:    code,
	}
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
