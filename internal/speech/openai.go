package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"
)

const summarySystemPrompt = "You narrate terminal task completions. In one short sentence, " +
	"state what the task did and whether it succeeded. Plain words, no markdown, " +
	"suitable for text-to-speech."

// OpenAIProvider implements Summarizer and Synthesizer against the OpenAI API.
type OpenAIProvider struct {
	client  openai.Client
	model   string
	voice   string
	limiter *rate.Limiter
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey        string
	SummaryModel  string
	Voice         string
	RatePerMinute int
}

// NewOpenAIProvider creates a provider. A missing API key is a ConfigError.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigError{Provider: "openai", Reason: "api key is not set"}
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = "gpt-4o-mini"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RatePerMinute)
	}

	return &OpenAIProvider{
		client:  openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   cfg.SummaryModel,
		voice:   cfg.Voice,
		limiter: limiter,
	}, nil
}

// Summarize generates a one-sentence spoken-style summary of the content.
func (p *OpenAIProvider) Summarize(ctx context.Context, instruction, content string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	user := content
	if instruction != "" {
		user = "Task instruction: " + instruction + "\n\nTerminal output:\n" + content
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarySystemPrompt),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", p.classify("summarize", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize: provider returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Synthesize converts text to audio bytes at the given speed.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, speed float64) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model: openai.SpeechModelTTS1,
		Input: text,
		Voice: openai.AudioSpeechNewParamsVoice(p.voice),
		Speed: openai.Float(speed),
	})
	if err != nil {
		return nil, p.classify("synthesize", err)
	}
	defer res.Body.Close()

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("synthesize: read audio: %w", err)
	}
	return audio, nil
}

// classify maps authentication failures to ConfigError; everything else is
// transient and stays retryable.
func (p *OpenAIProvider) classify(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &ConfigError{Provider: "openai", Reason: apiErr.Error()}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
