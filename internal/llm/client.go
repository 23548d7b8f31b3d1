// Package llm streams chat completions from OpenAI or Azure OpenAI.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/i474232898/weather-relay/internal/chat"
)

const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
)

// Config selects and configures the backend. Keys come from the environment only.
type Config struct {
	Provider string

	APIKey  string
	BaseURL string // OpenAI base URL or Azure endpoint
	Model   string // OpenAI model or Azure deployment name

	AzureAPIVersion string

	HTTPClient *http.Client
}

type chatCompletions interface {
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Client implements chat.Completer.
type Client struct {
	provider    string
	endpoint    string
	model       string
	configured  bool
	completions chatCompletions
}

// New builds a client. A missing key, endpoint or model yields a client that
// reports Configured() == false and refuses to stream.
func New(cfg Config) *Client {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider != ProviderOpenAI {
		provider = ProviderAzure
	}
	c := &Client{
		provider: provider,
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:    strings.TrimSpace(cfg.Model),
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" || c.endpoint == "" || c.model == "" {
		return c
	}

	// The relay never retries; a failed turn is resubmitted by the caller.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	switch provider {
	case ProviderAzure:
		opts = append(opts,
			azure.WithEndpoint(c.endpoint, cfg.AzureAPIVersion),
			azure.WithAPIKey(apiKey),
		)
	default:
		opts = append(opts,
			option.WithAPIKey(apiKey),
			option.WithBaseURL(c.endpoint+"/"),
		)
	}

	client := openai.NewClient(opts...)
	c.completions = &client.Chat.Completions
	c.configured = true
	return c
}

func (c *Client) Configured() bool { return c.configured }

// Provider is "azure" or "openai".
func (c *Client) Provider() string { return c.provider }

// Endpoint is the configured base URL; it carries no secret.
func (c *Client) Endpoint() string { return c.endpoint }

// Model is the model name, or the deployment name on Azure.
func (c *Client) Model() string { return c.model }

// Stream opens a streaming completion. Errors the upstream answered with
// before the first chunk are returned here.
func (c *Client) Stream(ctx context.Context, req chat.CompletionRequest) (chat.TokenStream, error) {
	if !c.configured {
		return nil, chat.ErrNotConfigured
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := c.completions.NewStreaming(ctx, params)
	if stream == nil {
		return nil, errors.New("openai stream not available")
	}
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, describeError(err)
	}
	return &tokenStream{stream: stream}, nil
}

// tokenStream flattens chunk deltas into content tokens.
type tokenStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	token  string
}

func (s *tokenStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		var b strings.Builder
		for _, choice := range chunk.Choices {
			b.WriteString(choice.Delta.Content)
		}
		if b.Len() == 0 {
			continue
		}
		s.token = b.String()
		return true
	}
	return false
}

func (s *tokenStream) Token() string { return s.token }

func (s *tokenStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return describeError(err)
	}
	return nil
}

func (s *tokenStream) Close() error { return s.stream.Close() }

// describeError renders upstream HTTP failures as "upstream returned HTTP <status>: <body>".
func describeError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	body := strings.TrimSpace(apiErr.RawJSON())
	if body == "" {
		body = apiErr.Message
	}
	if body == "" {
		body = http.StatusText(apiErr.StatusCode)
	}
	return fmt.Errorf("upstream returned HTTP %d: %s", apiErr.StatusCode, body)
}
