package ranker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.4
	snippetLimit       = 260
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey      string  `yaml:"-"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
}

// OpenAI ranks candidates with a chat completion model.
type OpenAI struct {
	logger      zerolog.Logger
	client      openai.Client
	model       string
	temperature float64
}

func NewOpenAI(logger zerolog.Logger, cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	return &OpenAI{
		logger:      logger.With().Str("component", "openai-ranker").Logger(),
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: temperature,
	}
}

const systemPrompt = "You edit viral short-form video. From the candidate moments of one long video, " +
	"pick the ones most likely to hold a viewer: a hook in the first 3 seconds, a self-contained setup and payoff, " +
	"strong emotion or surprise, and a length near 20-60 seconds. Reply with JSON only."

// Rank implements Capability.
func (o *OpenAI) Rank(ctx context.Context, choices []Choice, k int) ([]Pick, error) {
	userPrompt, err := buildUserPrompt(choices, k)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Model:       o.model,
		Temperature: openai.Float(o.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	o.logger.Debug().Str("model", o.model).Int("bytes", len(raw)).Msg("ranking response received")
	return ParsePicks(raw)
}

func buildUserPrompt(choices []Choice, k int) (string, error) {
	type item struct {
		ID       string  `json:"id"`
		Start    float64 `json:"start_s"`
		End      float64 `json:"end_s"`
		Duration float64 `json:"duration_s"`
		Score    float64 `json:"score"`
		Text     string  `json:"text"`
	}
	items := make([]item, 0, len(choices))
	for _, c := range choices {
		items = append(items, item{
			ID:       c.ID,
			Start:    roundMillis(c.Start),
			End:      roundMillis(c.End),
			Duration: roundMillis(c.Duration()),
			Score:    roundMillis(c.Score),
			Text:     shortText(c.Snippet, snippetLimit),
		})
	}
	payload, err := json.Marshal(map[string]interface{}{"pick": k, "candidates": items})
	if err != nil {
		return "", fmt.Errorf("failed to encode candidates: %w", err)
	}

	return fmt.Sprintf("Choose the best %d candidates, best first. Give each a punchy title of at most 8 words "+
		"and a one-sentence reason. Use only the ids given, each at most once.\n\n"+
		"Output format:\n"+
		`{"clips":[{"id":"c0","title":"...","reason":"..."}]}`+"\n\n"+
		"Candidates:\n%s", k, payload), nil
}

// ParsePicks extracts picks from a model reply. Code fences and surrounding prose are tolerated.
func ParsePicks(raw string) ([]Pick, error) {
	raw = strings.TrimSpace(raw)
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	if !gjson.Valid(raw) {
		return nil, errors.New("response is not valid JSON")
	}

	list := gjson.Get(raw, "clips")
	if !list.IsArray() {
		return nil, errors.New(`response has no "clips" array`)
	}

	var picks []Pick
	for _, entry := range list.Array() {
		id := strings.TrimSpace(entry.Get("id").String())
		if id == "" {
			return nil, errors.New("response entry without id")
		}
		picks = append(picks, Pick{
			ID:     id,
			Title:  entry.Get("title").String(),
			Reason: entry.Get("reason").String(),
		})
	}
	return picks, nil
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func shortText(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}
