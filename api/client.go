package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"

	"github.com/pierrot-lc/snake-search/envconfig"
	"github.com/pierrot-lc/snake-search/version"
)

// Client talks to a dashboard server. Use [ClientFromEnvironment] to
// create new Clients.
type Client struct {
	base *url.URL
	http *http.Client
}

// ClientFromEnvironment creates a [Client] from SNAKE_HOST, which
// points to the host and port the dashboard is listening on, in the
// form <scheme>://<host>:<port>.
func ClientFromEnvironment() (*Client, error) {
	return &Client{
		base: envconfig.Host(),
		http: http.DefaultClient,
	}, nil
}

func NewClient(base *url.URL, http *http.Client) *Client {
	return &Client{base: base, http: http}
}

func checkError(resp *http.Response, body []byte) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	apiError := StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	if err := json.Unmarshal(body, &apiError); err != nil {
		apiError.ErrorMessage = string(body)
	}
	return apiError
}

func (c *Client) do(ctx context.Context, method, path string, respData any) error {
	requestURL := c.base.JoinPath(path)
	request, err := http.NewRequestWithContext(ctx, method, requestURL.String(), nil)
	if err != nil {
		return err
	}

	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", fmt.Sprintf("snake-search/%s (%s %s) Go/%s",
		version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version()))

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	if err := checkError(response, respBody); err != nil {
		return err
	}

	if respData != nil {
		return json.Unmarshal(respBody, respData)
	}
	return nil
}

// Version returns the server build version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp VersionResponse
	if err := c.do(ctx, http.MethodGet, "/api/version", &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Runs lists the training runs known to the server.
func (c *Client) Runs(ctx context.Context) ([]RunSummary, error) {
	var resp RunsResponse
	if err := c.do(ctx, http.MethodGet, "/api/runs", &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Run fetches one run with its configuration and plot names.
func (c *Client) Run(ctx context.Context, id string) (RunDetailResponse, error) {
	var resp RunDetailResponse
	err := c.do(ctx, http.MethodGet, "/api/runs/"+id, &resp)
	return resp, err
}

// Metrics fetches the recorded metric series of a run.
func (c *Client) Metrics(ctx context.Context, id string) (MetricsResponse, error) {
	var resp MetricsResponse
	err := c.do(ctx, http.MethodGet, "/api/runs/"+id+"/metrics", &resp)
	return resp, err
}
