// Package gemini provides the client for the generative text service used by
// the mutation dispatcher. The client wraps the Google GenAI SDK with a
// circuit breaker and a request-rate limiter so a misbehaving service can
// never stall or hammer-loop the evolutionary search.
package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// SamplingParams control generation sampling.
type SamplingParams struct {
	Temperature     float32
	TopP            float32
	MaxOutputTokens int32
}

// DefaultSamplingParams are tuned for code mutation: warm enough to explore,
// bounded output.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		Temperature:     0.8,
		TopP:            0.95,
		MaxOutputTokens: 4096,
	}
}

// Result is one generation outcome.
type Result struct {
	Text         string
	PromptTokens int32
	OutputTokens int32
}

// Client calls the Gemini generate-content API.
type Client struct {
	client  *genai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient creates a Gemini client. The breaker opens after 5 consecutive
// failures and probes again after 30 seconds; requests are limited to 1/s
// with a small burst.
func NewClient(ctx context.Context, apiKey, model string, log zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "gemini",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		client:  client,
		model:   model,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(1), 3),
		log:     log.With().Str("client", "gemini").Logger(),
	}, nil
}

// Generate sends one generation request. Rate limiting, a tripped breaker,
// transport failures and empty responses all surface as errors; the caller
// treats every error identically (fallback path).
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string, params SamplingParams) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait aborted: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.generate(ctx, systemPrompt, userPrompt, params)
	})
	if err != nil {
		return nil, err
	}

	return out.(*Result), nil
}

func (c *Client) generate(ctx context.Context, systemPrompt, userPrompt string, params SamplingParams) (*Result, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(params.Temperature),
		TopP:            genai.Ptr(params.TopP),
		MaxOutputTokens: params.MaxOutputTokens,
	}
	if systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned an empty response")
	}

	result := &Result{Text: text}
	if resp.UsageMetadata != nil {
		result.PromptTokens = resp.UsageMetadata.PromptTokenCount
		result.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}

	c.log.Debug().
		Int32("prompt_tokens", result.PromptTokens).
		Int32("output_tokens", result.OutputTokens).
		Msg("generation completed")

	return result, nil
}
