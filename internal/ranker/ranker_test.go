package ranker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keagan/clipcannon/internal/clips"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type capabilityFunc func(ctx context.Context, choices []Choice, k int) ([]Pick, error)

func (f capabilityFunc) Rank(ctx context.Context, choices []Choice, k int) ([]Pick, error) {
	return f(ctx, choices, k)
}

func testCandidates() []clips.Candidate {
	return []clips.Candidate{
		{Start: 10, End: 40, Score: 0.5, Snippet: "warming up"},
		{Start: 100, End: 130, Score: 0.9, Snippet: "no way bro that was insane! so then"},
		{Start: 200, End: 230, Score: 0.7, Snippet: "we lost it"},
		{Start: 300, End: 330, Score: 0.9},
	}
}

func TestSelectFallbackWithoutCapability(t *testing.T) {
	r := New(zerolog.Nop(), nil, DefaultConfig())

	res := r.Select(context.Background(), testCandidates(), 2)
	require.True(t, res.Fallback)
	require.Len(t, res.Clips, 2)

	assert.Equal(t, 100.0, res.Clips[0].Start, "ties break by earlier start")
	assert.Equal(t, 300.0, res.Clips[1].Start)
	assert.Equal(t, "No way bro that was insane", res.Clips[0].Title)
	assert.Equal(t, "Highlight at 05:00", res.Clips[1].Title)
	assert.Equal(t, 1, res.Clips[0].Rank)
	assert.Equal(t, 2, res.Clips[1].Rank)
}

func TestSelectFallsBackOnBadAnswers(t *testing.T) {
	tests := []struct {
		name  string
		picks []Pick
		err   error
	}{
		{name: "transport error", err: errors.New("connection refused")},
		{name: "empty list", picks: []Pick{}},
		{name: "unknown id", picks: []Pick{{ID: "c9", Title: "x"}}},
		{name: "duplicate id", picks: []Pick{{ID: "c0", Title: "a"}, {ID: "c0", Title: "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capability := capabilityFunc(func(context.Context, []Choice, int) ([]Pick, error) {
				return tt.picks, tt.err
			})
			r := New(zerolog.Nop(), capability, DefaultConfig())

			res := r.Select(context.Background(), testCandidates(), 2)
			assert.True(t, res.Fallback)
			var unavailable *RankingUnavailableError
			assert.True(t, errors.As(res.Err, &unavailable))
			require.Len(t, res.Clips, 2)
			assert.Equal(t, 100.0, res.Clips[0].Start)
			assert.Equal(t, 300.0, res.Clips[1].Start)
		})
	}
}

func TestSelectTimeoutFallsBack(t *testing.T) {
	capability := capabilityFunc(func(ctx context.Context, _ []Choice, _ int) ([]Pick, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	r := New(zerolog.Nop(), capability, cfg)

	res := r.Select(context.Background(), testCandidates(), 1)
	require.True(t, res.Fallback)
	var unavailable *RankingUnavailableError
	require.True(t, errors.As(res.Err, &unavailable))
	assert.Equal(t, "timeout", unavailable.Reason)
	assert.Len(t, res.Clips, 1)
}

func TestSelectUsesCapabilityAndTopsUp(t *testing.T) {
	var offered []Choice
	capability := capabilityFunc(func(_ context.Context, choices []Choice, k int) ([]Pick, error) {
		offered = choices
		return []Pick{{ID: "c2", Title: "  we lost it  ", Reason: "raw emotion"}}, nil
	})
	r := New(zerolog.Nop(), capability, DefaultConfig())

	res := r.Select(context.Background(), testCandidates(), 2)
	require.False(t, res.Fallback)
	require.Len(t, res.Clips, 2)
	assert.Len(t, offered, 4, "N = 3K capped at the candidate count")

	assert.Equal(t, 200.0, res.Clips[0].Start)
	assert.Equal(t, "We lost it", res.Clips[0].Title)
	assert.Equal(t, "raw emotion", res.Clips[0].Reason)
	assert.Equal(t, 100.0, res.Clips[1].Start, "top-up comes from the best remaining score")
	assert.NotEmpty(t, res.Clips[1].Title)
}

func TestSelectBounds(t *testing.T) {
	r := New(zerolog.Nop(), nil, DefaultConfig())

	assert.Len(t, r.Select(context.Background(), testCandidates(), 10).Clips, 4)
	assert.Empty(t, r.Select(context.Background(), testCandidates(), 0).Clips)
	assert.Empty(t, r.Select(context.Background(), nil, 3).Clips)
}

func TestSynthesizeTitle(t *testing.T) {
	r := New(zerolog.Nop(), nil, DefaultConfig())

	tests := []struct {
		snippet string
		start   float64
		want    string
	}{
		{"no way bro that was insane! so then", 0, "No way bro that was insane"},
		{"one two three four five six seven eight nine ten", 0, "One two three four five six seven eight"},
		{"   ", 75, "Highlight at 01:15"},
		{"  -- okay here we go, round two", 0, "Okay here we go"},
	}
	for _, tt := range tests {
		got := r.SynthesizeTitle(clips.Candidate{Start: tt.start, End: tt.start + 20, Snippet: tt.snippet})
		assert.Equal(t, tt.want, got)
		assert.LessOrEqual(t, len([]rune(got)), 60)
	}
}

func TestParsePicks(t *testing.T) {
	picks, err := ParsePicks("```json\n{\"clips\":[{\"id\":\"c1\",\"title\":\"Big play\",\"reason\":\"hook\"}]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []Pick{{ID: "c1", Title: "Big play", Reason: "hook"}}, picks)

	_, err = ParsePicks("not json")
	assert.Error(t, err)
	_, err = ParsePicks(`{"items":[]}`)
	assert.Error(t, err)
	_, err = ParsePicks(`{"clips":[{"title":"no id"}]}`)
	assert.Error(t, err)
}

func TestOpenAICapability(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !strings.HasSuffix(req.URL.Path, "/chat/completions") {
			http.NotFound(w, req)
			return
		}
		body, _ = io.ReadAll(req.Body)

		content := `{"clips":[{"id":"c1","title":"that comeback","reason":"big swing"}]}`
		resp := map[string]interface{}{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	capability := NewOpenAI(zerolog.Nop(), OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/"})
	r := New(zerolog.Nop(), capability, DefaultConfig())

	res := r.Select(context.Background(), testCandidates(), 1)
	require.False(t, res.Fallback, "unexpected fallback: %v", res.Err)
	require.Len(t, res.Clips, 1)
	assert.Equal(t, 300.0, res.Clips[0].Start, "c1 is the second best by score")
	assert.Equal(t, "That comeback", res.Clips[0].Title)

	assert.Equal(t, DefaultModel, gjson.GetBytes(body, "model").String())
	assert.Equal(t, "json_object", gjson.GetBytes(body, "response_format.type").String())
	assert.InDelta(t, DefaultTemperature, gjson.GetBytes(body, "temperature").Float(), 1e-9)
}

func TestOpenAIServerErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	capability := NewOpenAI(zerolog.Nop(), OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/"})
	r := New(zerolog.Nop(), capability, DefaultConfig())

	res := r.Select(context.Background(), testCandidates(), 2)
	assert.True(t, res.Fallback)
	assert.Len(t, res.Clips, 2)
}
