package openai

import (
	"os"
	"strings"

	"github.com/effective-security/toolpilot/pkg/llms/openai/internal/openaiclient"
	"github.com/effective-security/x/values"
)

const (
	tokenEnvVarName        = "OPENAI_API_KEY"      //nolint:gosec
	modelEnvVarName        = "OPENAI_MODEL"        //nolint:gosec
	baseURLEnvVarName      = "OPENAI_BASE_URL"     //nolint:gosec
	baseAPIBaseEnvVarName  = "OPENAI_API_BASE"     //nolint:gosec
	organizationEnvVarName = "OPENAI_ORGANIZATION" //nolint:gosec
)

type ProviderType = openaiclient.ProviderType

const (
	ProviderOpenAI = openaiclient.ProviderOpenAI
	ProviderAzure  = openaiclient.ProviderAzure
	ProviderOllama = openaiclient.ProviderOllama
)

type options struct {
	token        string
	model        string
	baseURL      string
	organization string
	provider     ProviderType
	httpClient   openaiclient.Doer

	// required when provider is ProviderAzure
	apiVersion string
}

// Option is a functional option for the OpenAI client.
type Option func(*options)

// WithToken passes the OpenAI API token to the client. If not set, the token
// is read from the OPENAI_API_KEY environment variable.
func WithToken(token string) Option {
	return func(opts *options) {
		opts.token = token
	}
}

// WithModel passes the OpenAI model to the client. If not set, the model
// is read from the OPENAI_MODEL environment variable.
// Required when provider is Azure.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithBaseURL passes the OpenAI base url to the client. If not set, the base url
// is read from the OPENAI_BASE_URL environment variable. If still not set in ENV
// VAR OPENAI_BASE_URL, then the default value is https://api.openai.com/v1 is used.
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithOrganization passes the OpenAI organization to the client. If not set, the
// organization is read from the OPENAI_ORGANIZATION.
func WithOrganization(organization string) Option {
	return func(opts *options) {
		opts.organization = organization
	}
}

// WithProvider passes the api type to the client. If not set, the default value
// is ProviderOpenAI.
func WithProvider(provider ProviderType) Option {
	return func(opts *options) {
		opts.provider = ProviderType(strings.ToUpper(string(provider)))
	}
}

// WithAPIVersion passes the api version to the client. Required for Azure.
func WithAPIVersion(apiVersion string) Option {
	return func(opts *options) {
		opts.apiVersion = apiVersion
	}
}

// WithHTTPClient allows setting a custom HTTP client. If not set, the default value
// is http.DefaultClient.
func WithHTTPClient(client openaiclient.Doer) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

func newClient(opts ...Option) (*options, *openaiclient.Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	o.provider = ProviderType(values.StringsCoalesce(string(o.provider), string(ProviderOpenAI)))
	o.token = values.StringsCoalesce(o.token, os.Getenv(tokenEnvVarName))
	o.model = values.StringsCoalesce(o.model, os.Getenv(modelEnvVarName))
	o.baseURL = values.StringsCoalesce(o.baseURL, os.Getenv(baseURLEnvVarName), os.Getenv(baseAPIBaseEnvVarName))
	o.organization = values.StringsCoalesce(o.organization, os.Getenv(organizationEnvVarName))

	cli, err := openaiclient.New(o.provider, o.model, o.token, o.baseURL, o.organization, o.apiVersion, o.httpClient)
	if err != nil {
		return nil, nil, err
	}
	return o, cli, nil
}
