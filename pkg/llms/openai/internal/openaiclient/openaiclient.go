package openaiclient

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot", "openai")

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultChatModel = "gpt-4o-mini"
)

// ErrEmptyResponse is returned when the OpenAI API returns an empty response.
var ErrEmptyResponse = errors.New("empty response")

type ProviderType string

const (
	ProviderOpenAI ProviderType = "OPENAI"
	ProviderAzure  ProviderType = "AZURE"
	ProviderOllama ProviderType = "OLLAMA"
)

// Client is a client for the OpenAI-compatible chat completions API.
type Client struct {
	Model    string
	Provider ProviderType

	token        string
	baseURL      string
	organization string
	apiVersion   string
	httpClient   Doer
}

// Doer performs a HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// New returns a new OpenAI client.
func New(provider ProviderType, model, token, baseURL, organization, apiVersion string, httpClient Doer) (*Client, error) {
	c := &Client{
		Model:        model,
		Provider:     provider,
		token:        token,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		organization: organization,
		apiVersion:   apiVersion,
		httpClient:   httpClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.Provider == ProviderAzure && c.apiVersion == "" {
		return nil, errors.New("api version is required for Azure")
	}
	return c, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	switch c.Provider {
	case ProviderAzure:
		req.Header.Set("api-key", c.token)
	default:
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
	}
	if c.organization != "" {
		req.Header.Set("OpenAI-Organization", c.organization)
	}
}

func (c *Client) buildURL(suffix string, model string) string {
	if c.Provider == ProviderAzure {
		// /openai/deployments/{model}/chat/completions?api-version={api_version}
		return fmt.Sprintf("%s/openai/deployments/%s%s?api-version=%s",
			strings.TrimRight(c.baseURL, "/"), model, suffix, c.apiVersion,
		)
	}
	return c.baseURL + suffix
}

type errorMessage struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
