package cleaner

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/locallens/resolve-cli/internal/model"
	"github.com/locallens/resolve-cli/pkg/anthropic"
)

const cleanSystemPrompt = `You normalize messy postal addresses. Respond with only a JSON object:
{"cleaned": "<single-line normalized address>", "street": "", "city": "", "district": "", "state": "", "postal_code": ""}
Expand abbreviations, fix casing, keep every component you can identify, and invent nothing.`

const strictSuffix = `
Strict mode: drop landmark-relative fragments ("near...", "opposite...", "behind...") and anything you cannot resolve to a real address component.`

// LLMCleaner normalizes addresses with a language model and falls back to the
// rule cleaner on any failure. It never blocks past its timeout.
type LLMCleaner struct {
	client   anthropic.Client
	model    string
	timeout  time.Duration
	fallback *RuleCleaner
	log      *zap.Logger
}

// NewLLMCleaner creates an LLMCleaner with the given fallback.
func NewLLMCleaner(client anthropic.Client, modelID string, timeout time.Duration, fallback *RuleCleaner) *LLMCleaner {
	return &LLMCleaner{
		client:   client,
		model:    modelID,
		timeout:  timeout,
		fallback: fallback,
		log:      zap.L().With(zap.String("component", "cleaner")),
	}
}

type llmPayload struct {
	Cleaned    string `json:"cleaned"`
	Street     string `json:"street"`
	City       string `json:"city"`
	District   string `json:"district"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

// Clean asks the model for a normalized address. Any failure (transport,
// timeout, unparseable output) degrades to the rule cleaner.
func (c *LLMCleaner) Clean(ctx context.Context, raw string, strict bool) (*model.CleanResult, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &model.InvalidInputError{Reason: "empty address"}
	}

	res, err := c.cleanLLM(ctx, raw, strict)
	if err != nil {
		c.log.Warn("llm clean failed, using rules", zap.Error(err))
		return c.fallback.Clean(ctx, raw, strict)
	}
	return res, nil
}

func (c *LLMCleaner) cleanLLM(ctx context.Context, raw string, strict bool) (*model.CleanResult, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	system := cleanSystemPrompt
	if strict {
		system += strictSuffix
	}

	resp, err := c.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: 512,
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: raw}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "cleaner: llm call")
	}
	resp.Usage.LogCost(c.model, "clean")

	payload, err := parsePayload(resp.Text)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.Cleaned) == "" {
		return nil, eris.New("cleaner: llm returned empty cleaned text")
	}

	return &model.CleanResult{
		CleanedText: normalizeWhitespace(payload.Cleaned),
		Components: model.AddressComponents{
			Street:     payload.Street,
			City:       payload.City,
			District:   payload.District,
			State:      payload.State,
			PostalCode: payload.PostalCode,
		},
		Confidence: llmConfidence(raw, payload.Cleaned),
		Source:     "llm",
	}, nil
}

// parsePayload extracts the JSON object from the model output, tolerating
// prose around it.
func parsePayload(text string) (*llmPayload, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("cleaner: no JSON object in llm output")
	}

	var payload llmPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return nil, eris.Wrap(err, "cleaner: parse llm output")
	}
	return &payload, nil
}

// llmConfidence scores the clean by token overlap between input and output.
// A rewrite that shares little with the input is suspect.
func llmConfidence(raw, cleaned string) float64 {
	rawTokens := tokenSet(raw)
	cleanTokens := tokenSet(cleaned)
	if len(rawTokens) == 0 || len(cleanTokens) == 0 {
		return 0.5
	}

	var shared int
	for tok := range cleanTokens {
		if _, ok := rawTokens[tok]; ok {
			shared++
		}
	}
	overlap := float64(shared) / float64(len(cleanTokens))

	conf := 0.5 + 0.45*overlap
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(tok, ".,")] = struct{}{}
	}
	return set
}
