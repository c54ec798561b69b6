// Package llm implements the optional LLM decision client: a single chat
// completion per trader per cycle in JSON-object response mode (no JSON
// schema is attached to the request; the reply is decoded and validated
// here), with a strict timeout and silent fallback to the heuristic decision
// engine on any failure, using github.com/sashabaranov/go-openai as the
// concrete client.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/onlytrade/agent-runtime/pkg/types"
	"github.com/onlytrade/agent-runtime/pkg/utils"
)

// retryConfig bounds retries to the ctx deadline already carried by the
// caller; two attempts with a short fixed backoff absorbs a transient
// connection reset without meaningfully delaying the cycle.
var retryConfig = utils.RetryConfig{
	MaxAttempts:  2,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     200 * time.Millisecond,
	Multiplier:   1,
}

// Config configures the LLM decision client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	TokenSaver bool
}

// rawDecision mirrors the strict JSON schema the model is instructed to
// return: {"decisions":[{...exactly one item...}]}.
type rawDecision struct {
	Action           string   `json:"action"`
	Symbol           string   `json:"symbol"`
	Quantity         float64  `json:"quantity"`
	Confidence       float64  `json:"confidence"`
	StopLoss         float64  `json:"stop_loss"`
	TakeProfit       float64  `json:"take_profit"`
	ReasoningStepsCN []string `json:"reasoning_steps_cn"`
}

type rawResponse struct {
	Decisions []rawDecision `json:"decisions"`
}

// Client calls an OpenAI-compatible chat completion endpoint and normalizes
// the response into exactly one types.Decision, or returns an error that
// callers treat as "fall through to the heuristic" — any LLM failure is
// non-fatal to the cycle.
type Client struct {
	mu     sync.Mutex
	logger *zap.Logger
	oai    *openai.Client
	cfg    Config

	requestCount int
	windowStart  time.Time
}

// New constructs a Client. If cfg.APIKey is empty the client is still built
// but every call will fail fast, which the decision engine treats the same
// as any other LLM failure (fallback to heuristic, never a fatal error).
func New(logger *zap.Logger, cfg Config) *Client {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		logger: logger.Named("llm"),
		oai:    openai.NewClientWithConfig(oaiCfg),
		cfg:    cfg,
	}
}

// checkRateLimit allows at most 5 requests per 1-second window per client,
// matching the
// koshedutech analyzer's checkRateLimit pattern, protecting against a
// mis-tuned cadence hammering the LLM endpoint.
func (c *Client) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.windowStart) > time.Second {
		c.windowStart = now
		c.requestCount = 0
	}
	c.requestCount++
	if c.requestCount > 5 {
		return fmt.Errorf("llm: rate limit exceeded")
	}
	return nil
}

// Decide issues one chat completion for the trader's decision context and
// returns exactly one normalized Decision. The context passed in must already
// carry a deadline; Decide does not apply its own timeout beyond ctx's.
func (c *Client) Decide(ctx context.Context, dc types.DecisionContext) (types.Decision, error) {
	if err := c.checkRateLimit(); err != nil {
		return types.Decision{}, err
	}

	systemPrompt := buildSystemPrompt(dc)
	userPrompt := buildUserPrompt(dc, c.cfg.TokenSaver)

	resp, err := utils.Retry(retryConfig, func() (openai.ChatCompletionResponse, error) {
		return c.oai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature: 0.2,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
	})
	if err != nil {
		return types.Decision{}, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.Decision{}, fmt.Errorf("llm: empty response")
	}

	content := stripMarkdownCodeBlock(resp.Choices[0].Message.Content)

	var parsed rawResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return types.Decision{}, fmt.Errorf("llm: parse response: %w", err)
	}
	if len(parsed.Decisions) != 1 {
		return types.Decision{}, fmt.Errorf("llm: expected exactly one decision, got %d", len(parsed.Decisions))
	}

	d := normalize(parsed.Decisions[0], dc)
	for _, c := range dc.Candidates {
		if c.Symbol == d.Symbol {
			return d, nil
		}
	}
	return types.Decision{}, fmt.Errorf("llm: symbol %q outside candidate set", d.Symbol)
}

// stripMarkdownCodeBlock removes a ```json ... ``` fence some models wrap
// their output in despite response_format instructions, mirroring the
// koshedutech binance-trading-app analyzer's defensive parsing.
func stripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// normalize clamps and coerces the model's raw output into the invariants
// the decision engine and §8 testable properties require: action is one of
// buy/sell/hold, confidence in [0.51,0.95], quantity a non-negative multiple
// of the 100-share lot, an empty symbol defaulted to the top candidate.
// Candidate-set membership of the symbol is checked by Decide, not here.
func normalize(raw rawDecision, dc types.DecisionContext) types.Decision {
	const lotSize = 100

	action := strings.ToLower(strings.TrimSpace(raw.Action))
	if action != "buy" && action != "sell" && action != "hold" {
		action = "hold"
	}

	symbol := raw.Symbol
	if symbol == "" && len(dc.Candidates) > 0 {
		symbol = dc.Candidates[0].Symbol
	}

	qty := int64(raw.Quantity)
	if qty < 0 {
		qty = -qty
	}
	qty = (qty / lotSize) * lotSize
	if action == "hold" {
		qty = 0
	}

	confidence := raw.Confidence
	if confidence < 0.51 {
		confidence = 0.51
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	d := types.Decision{
		Action:           action,
		Symbol:           symbol,
		Quantity:         qty,
		Confidence:       confidence,
		ReasoningStepsCN: raw.ReasoningStepsCN,
	}
	return d
}
