package model

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/taskbeacon/taskbeacon/internal/agent"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

// AnthropicConfig contains settings for the Anthropic transport.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseBedrock routes calls through AWS Bedrock instead of the direct API.
	UseBedrock bool
	// AWSRegion is the Bedrock region (e.g. "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name.
	AWSProfile string
}

// anthropicAPI implements completionAPI over the Anthropic SDK.
type anthropicAPI struct {
	inner anthropic.Client
}

// NewAnthropicAPI creates the SDK-backed transport.
func NewAnthropicAPI(cfg AnthropicConfig) (*anthropicAPI, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		ctx := context.Background()

		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, models.Errorf(models.ErrAuthError, "ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &anthropicAPI{inner: anthropic.NewClient(opts...)}, nil
}

// Complete performs one messages API call and classifies transport
// failures into the error taxonomy.
func (a *anthropicAPI) Complete(ctx context.Context, cfg agent.Config, system string, turns []turn) (string, int64, int64, error) {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		blocks := []anthropic.ContentBlockParamUnion{}
		if len(t.imageData) > 0 {
			mediaType := "image/" + t.imageFormat
			encoded := base64.StdEncoding.EncodeToString(t.imageData)
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, encoded))
		}
		if t.text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(t.text))
		}
		if t.role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	resp, err := a.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(cfg.Model),
		MaxTokens:   int64(cfg.MaxTokens),
		Temperature: anthropic.Float(cfg.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: messages,
	})
	if err != nil {
		return "", 0, 0, classifyAPIError(cfg, err)
	}

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}
	return text, resp.Usage.InputTokens, resp.Usage.OutputTokens, nil
}

// classifyAPIError maps SDK and context errors onto the taxonomy so the
// retry loop can decide what is transient.
func classifyAPIError(cfg agent.Config, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.Errorf(models.ErrTimeout, "role %s: %v", cfg.Role, err)
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 401 || apierr.StatusCode == 403:
			return models.Errorf(models.ErrAuthError, "role %s: %v", cfg.Role, err)
		case apierr.StatusCode == 429:
			return models.Errorf(models.ErrRateLimited, "role %s: %v", cfg.Role, err)
		case apierr.StatusCode == 408 || apierr.StatusCode >= 500:
			return models.Errorf(models.ErrTimeout, "role %s: %v", cfg.Role, err)
		default:
			// 4xx validation class: not retryable, not auth.
			return fmt.Errorf("role %s: %w", cfg.Role, err)
		}
	}

	// Network-level failure with no HTTP status: treat as transient.
	return models.Errorf(models.ErrTimeout, "role %s: %v", cfg.Role, err)
}
