package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lunabot/luna/internal/memory"
)

func chatReply(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}))
	}
}

func TestDecideParsesReply(t *testing.T) {
	srv := httptest.NewServer(chatReply(t,
		`sure: {"intent":"banter","urgency":0.2,"confidence":0.9,"action":"CHAT","mood":"amused","temperature":0.7,"token_limit":128,"system_injection":""}`))
	defer srv.Close()

	p := NewProvider(srv.URL, "test-model", "")
	d, err := p.Decide(context.Background(), "hey", memory.ContextBundle{})

	require.NoError(t, err)
	require.Equal(t, ActionChat, d.Action)
	require.Equal(t, "banter", d.Intent)
	require.InDelta(t, 0.7, d.Temperature, 1e-9)
}

func TestDecideUnknownActionBecomesChat(t *testing.T) {
	srv := httptest.NewServer(chatReply(t, `{"action":"EXPLODE"}`))
	defer srv.Close()

	p := NewProvider(srv.URL, "test-model", "")
	d, err := p.Decide(context.Background(), "hey", memory.ContextBundle{})

	require.NoError(t, err)
	require.Equal(t, ActionChat, d.Action)
}

func TestDecideFallsBackAfterRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "test-model", "")
	d, err := p.Decide(context.Background(), "hey", memory.ContextBundle{})

	require.Error(t, err)
	require.Equal(t, FallbackDecision(), d)
	require.EqualValues(t, RetryAttempts, calls.Load())
}

func TestGenerateSplitsEmotionTag(t *testing.T) {
	srv := httptest.NewServer(chatReply(t, "oh that is rich [emotion:smug]"))
	defer srv.Close()

	p := NewProvider(srv.URL, "test-model", "")
	g, err := p.Generate(context.Background(), "sys", "msg")

	require.NoError(t, err)
	require.Equal(t, "oh that is rich", g.Text)
	require.Equal(t, "smug", g.EmotionTag)
}

func TestExtractClampsAndDropsSelfPairs(t *testing.T) {
	srv := httptest.NewServer(chatReply(t,
		`[{"user_a":"a","user_b":"b","sentiment":3.0},
		  {"user_a":"a","user_b":"a","sentiment":0.5},
		  {"user_a":"","user_b":"b","sentiment":0.5},
		  {"user_a":"c","user_b":"d","sentiment":-0.4}]`))
	defer srv.Close()

	p := NewProvider(srv.URL, "test-model", "")
	pairs, err := p.Extract(context.Background(), []InteractionEvent{
		{UserA: "a", UserB: "b", Kind: "reply"},
	})

	require.NoError(t, err)
	require.Len(t, pairs, 2)
	require.InDelta(t, 1.0, pairs[0].Sentiment, 1e-9)
	require.InDelta(t, -0.4, pairs[1].Sentiment, 1e-9)
}

func TestExtractEmptyEventsShortCircuits(t *testing.T) {
	p := NewProvider("http://127.0.0.1:0", "test-model", "")
	pairs, err := p.Extract(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, pairs)
}

func TestExtractJSONTable(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n[1,2]\n```", "[1,2]"},
		{"prose {\"a\":1} more prose", `{"a":1}`},
		{"no structure at all", "no structure at all"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, extractJSON(tc.in))
	}
}
