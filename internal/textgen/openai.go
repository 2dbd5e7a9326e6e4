package textgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

const (
	DefaultModel        = "gpt-4o-mini"
	DefaultSystemPrompt = "You are a clear, concise assistant."
	DefaultTemperature  = 0.6
	DefaultMaxTokens    = 300
	DefaultTimeout      = 60 * time.Second
)

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
}

// OpenAIProducer calls the chat-completions endpoint once per prompt.
type OpenAIProducer struct {
	client       oai.Client
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
}

func NewOpenAIProducer(cfg OpenAIConfig) (*OpenAIProducer, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key must not be empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}

	return &OpenAIProducer{
		client:       oai.NewClient(reqOpts...),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

func (p *OpenAIProducer) Produce(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", &GenerationError{Reason: "empty prompt"}
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(p.systemPrompt),
			oai.UserMessage(prompt),
		},
		Temperature: param.NewOpt(p.temperature),
		MaxTokens:   param.NewOpt(int64(p.maxTokens)),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return "", &GenerationError{Reason: fmt.Sprintf("chat completion status %d", apiErr.StatusCode), Err: err}
		}
		return "", &GenerationError{Reason: "chat completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Reason: "no reply: empty choices"}
	}
	reply := SpeakableText(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", &GenerationError{Reason: "no reply"}
	}
	return reply, nil
}
