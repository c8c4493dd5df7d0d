package llm

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

const defaultAzureAPIVersion = "2024-02-01"

// AzureConfig addresses an Azure OpenAI resource. Deployment plays the role
// of the model name; EmbeddingDeployment is only needed for Embed.
type AzureConfig struct {
	Endpoint            string
	Token               string
	Deployment          string
	EmbeddingDeployment string
	APIVersion          string
	HTTPClient          *http.Client
	Retry               RetryConfig
}

type AzureClient struct {
	deployment          string
	embeddingDeployment string
	endpoint            string
	apiVersion          string
	wire                *openAIWire
}

func NewAzureClient(cfg AzureConfig) (*AzureClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("azure endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, errors.New("azure endpoint is not a valid url")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("azure api key is required")
	}
	deployment := strings.TrimSpace(cfg.Deployment)
	if deployment == "" {
		return nil, errors.New("azure deployment is required")
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAzureAPIVersion
	}
	header := http.Header{}
	header.Set("api-key", token)
	c := &AzureClient{
		deployment:          deployment,
		embeddingDeployment: strings.TrimSpace(cfg.EmbeddingDeployment),
		endpoint:            strings.TrimRight(endpoint, "/"),
		apiVersion:          apiVersion,
	}
	c.wire = &openAIWire{
		transport: newTransport("azure", cfg.HTTPClient, cfg.Retry),
		header:    header,
	}
	return c, nil
}

func (c *AzureClient) Complete(ctx context.Context, req TextRequest) (Response, error) {
	return c.forDeployment(req.Model).complete(ctx, "", req)
}

func (c *AzureClient) CompleteStream(ctx context.Context, req TextRequest, handle StreamHandler) (Response, error) {
	return c.forDeployment(req.Model).completeStream(ctx, "", req, handle)
}

func (c *AzureClient) Chat(ctx context.Context, req ChatRequest) (Response, error) {
	return c.forDeployment(req.Model).chat(ctx, "", req)
}

func (c *AzureClient) ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (Response, error) {
	return c.forDeployment(req.Model).chatStream(ctx, "", req, handle)
}

func (c *AzureClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if c.embeddingDeployment == "" {
		return nil, errors.New("azure embedding deployment is required")
	}
	return c.forDeployment(c.embeddingDeployment).embed(ctx, "", texts)
}

// forDeployment returns a wire bound to the given deployment, falling back to
// the configured one.
func (c *AzureClient) forDeployment(override string) *openAIWire {
	deployment := resolveModel(override, c.deployment)
	wire := *c.wire
	wire.endpoint = func(op string) string {
		return buildAzureEndpoint(c.endpoint, deployment, op, c.apiVersion)
	}
	return &wire
}

func buildAzureEndpoint(endpoint, deployment, op, apiVersion string) string {
	query := url.Values{}
	query.Set("api-version", apiVersion)
	return endpoint + "/openai/deployments/" + url.PathEscape(deployment) + "/" + op + "?" + query.Encode()
}
