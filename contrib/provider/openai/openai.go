// Package openai implements the reasoning loop's model contracts
// (intent classification, answer generation, answer auditing) on the
// OpenAI chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/mittelweg/ares/agent"
	"github.com/mittelweg/ares/document"
)

const classifySystemPrompt = `You route user questions for a document assistant.
Decide whether the question needs information from the indexed documents.
Greetings, small talk, and questions about the assistant itself can be answered directly.
Reply with JSON only: {"needs_search": true|false}`

const directSystemPrompt = `You are a helpful assistant. Answer the question from your own knowledge, briefly and directly.`

const generateSystemPrompt = `You answer questions strictly from the numbered context passages.
Cite every factual statement with the bracketed number of its passage, like [1] or [3].
If the passages do not contain the answer, say so instead of guessing.`

const auditSystemPrompt = `You audit an assistant's answer against the context passages it was built from.
Rate how well the answer is supported by the passages.
Reply with JSON only: {"confidence": <0.0-1.0>, "refined_query": "<a better search query when confidence is low, else empty>"}`

// Config holds OpenAI provider settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns the settings used when fields are left zero.
func DefaultConfig() *Config {
	return &Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   2000,
		Temperature: 0.2,
	}
}

// Provider is an OpenAI-backed classifier, generator, and auditor.
type Provider struct {
	cfg    *Config
	client openaisdk.Client
}

// New creates a provider.
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{
		cfg:    config,
		client: openaisdk.NewClient(opts...),
	}
}

// Classify implements agent.IntentClassifier.
func (p *Provider) Classify(ctx context.Context, query string) (agent.Intent, error) {
	raw, err := p.complete(ctx, classifySystemPrompt, query)
	if err != nil {
		return agent.Intent{}, fmt.Errorf("classify intent: %w", err)
	}
	var parsed struct {
		NeedsSearch bool `json:"needs_search"`
	}
	if err := decodeJSON(raw, &parsed); err != nil {
		// An unparsable verdict falls back to retrieval.
		return agent.Intent{NeedsSearch: true}, nil
	}
	return agent.Intent{NeedsSearch: parsed.NeedsSearch}, nil
}

// Generate implements agent.Generator. Without candidates the model
// answers from its own knowledge instead of the passage prompt.
func (p *Provider) Generate(ctx context.Context, query string, candidates []document.SearchCandidate) (string, error) {
	system := generateSystemPrompt
	user := query
	if len(candidates) > 0 {
		user = fmt.Sprintf("Context passages:\n%s\nQuestion: %s", formatCandidates(candidates), query)
	} else {
		system = directSystemPrompt
	}
	answer, err := p.complete(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// Audit implements agent.Auditor. Unparsable verdicts count as a
// middling 0.5 so the loop's policy still applies.
func (p *Provider) Audit(ctx context.Context, query, answer string, candidates []document.SearchCandidate) (agent.Audit, error) {
	user := fmt.Sprintf("Context passages:\n%s\nQuestion: %s\n\nAnswer under audit:\n%s",
		formatCandidates(candidates), query, answer)
	raw, err := p.complete(ctx, auditSystemPrompt, user)
	if err != nil {
		return agent.Audit{}, fmt.Errorf("audit answer: %w", err)
	}
	var parsed struct {
		Confidence   float64 `json:"confidence"`
		RefinedQuery string  `json:"refined_query"`
	}
	if err := decodeJSON(raw, &parsed); err != nil {
		return agent.Audit{Confidence: 0.5}, nil
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return agent.Audit{Confidence: parsed.Confidence, RefinedQuery: parsed.RefinedQuery}, nil
}

func (p *Provider) complete(ctx context.Context, system, user string) (string, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(p.cfg.Model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(system),
			openaisdk.UserMessage(user),
		},
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = param.NewOpt(p.cfg.Temperature)
	}
	if p.cfg.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(p.cfg.MaxTokens)
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// formatCandidates numbers the passages 1..n so the model can cite them
// with bracketed markers the citation extractor understands.
func formatCandidates(candidates []document.SearchCandidate) string {
	var b strings.Builder
	for i, cand := range candidates {
		text := cand.Context
		if text == "" {
			text = cand.Chunk.Content
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, cand.SourceName)
		if cand.Chunk.Page > 0 {
			fmt.Fprintf(&b, " (page %d)", cand.Chunk.Page)
		}
		fmt.Fprintf(&b, ":\n%s\n\n", text)
	}
	return b.String()
}

// decodeJSON tolerates markdown fences and prose around the JSON object.
func decodeJSON(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start > 0 {
		raw = raw[start:]
	}
	if end := strings.LastIndex(raw, "}"); end >= 0 && end < len(raw)-1 {
		raw = raw[:end+1]
	}
	return json.Unmarshal([]byte(raw), out)
}
