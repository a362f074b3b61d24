package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lunabot/luna/internal/memory"
)

// chatMessage is the OpenAI-compatible chat payload element.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider talks to an OpenAI-compatible endpoint and implements all four
// collaborator contracts.
type Provider struct {
	baseURL string
	model   string
	key     string
	client  *http.Client
}

// NewProvider creates a provider for the given chat-completions endpoint.
func NewProvider(baseURL, model, key string) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		key:     key,
		client:  &http.Client{Timeout: 25 * time.Second},
	}
}

func (p *Provider) chat(ctx context.Context, messages []chatMessage, temperature float64) (string, error) {
	payload := map[string]any{
		"model":       p.model,
		"messages":    messages,
		"temperature": temperature,
		"private":     true,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.key != "" {
		req.Header.Set("Authorization", "Bearer "+p.key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat http %d: %s", resp.StatusCode, truncate(body))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat: empty choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// Decide asks the model to classify the batch. Any failure after retries
// falls back to plain CHAT.
func (p *Provider) Decide(ctx context.Context, message string, bundle memory.ContextBundle) (Decision, error) {
	system := "You route chat messages. Reply with ONLY a JSON object: " +
		`{"intent":"","urgency":0,"confidence":0,"action":"CHAT|IGNORE|SEARCH|TOOL_USE","mood":"","temperature":0.8,"token_limit":256,"system_injection":""}`
	user := formatBundle(bundle) + "\n\nMessage:\n" + message

	var out Decision
	err := withRetry(ctx, "decision", func(ctx context.Context) error {
		raw, err := p.chat(ctx, []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		}, 0.2)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(extractJSON(raw)), &out)
	})
	if err != nil {
		return FallbackDecision(), err
	}
	switch out.Action {
	case ActionChat, ActionIgnore, ActionSearch, ActionToolUse:
	default:
		out.Action = ActionChat
	}
	return out, nil
}

// Generate produces the response text. An optional trailing [emotion:x] tag
// is split off into the emotion field.
func (p *Provider) Generate(ctx context.Context, system, message string) (Generation, error) {
	var text string
	err := withRetry(ctx, "generation", func(ctx context.Context) error {
		out, err := p.chat(ctx, []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: message},
		}, 0.9)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return fmt.Errorf("generation: empty reply")
		}
		text = out
		return nil
	})
	if err != nil {
		return Generation{}, err
	}
	gen := Generation{Text: text}
	if i := strings.LastIndex(text, "[emotion:"); i >= 0 {
		if j := strings.Index(text[i:], "]"); j > 0 {
			gen.EmotionTag = text[i+len("[emotion:") : i+j]
			gen.Text = strings.TrimSpace(text[:i])
		}
	}
	return gen, nil
}

// Embed calls the sibling embeddings endpoint.
func (p *Provider) Embed(ctx context.Context, text string) (memory.Vector, error) {
	url := strings.TrimSuffix(p.baseURL, "/chat/completions") + "/embeddings"
	payload := map[string]any{"model": p.model, "input": text}
	data, _ := json.Marshal(payload)

	var vec memory.Vector
	err := withRetry(ctx, "embedding", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if p.key != "" {
			req.Header.Set("Authorization", "Bearer "+p.key)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("embeddings http %d: %s", resp.StatusCode, truncate(body))
		}
		var parsed struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return err
		}
		if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
			return fmt.Errorf("embeddings: empty result")
		}
		vec = parsed.Data[0].Embedding
		return nil
	})
	return vec, err
}

// Extract scores pairwise sentiment for the batch. An unparseable or empty
// reply yields no pairs, which callers accept as a valid result.
func (p *Provider) Extract(ctx context.Context, events []InteractionEvent) ([]PairSentiment, error) {
	if len(events) == 0 {
		return nil, nil
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "%s %s<->%s\n", e.Kind, e.UserA, e.UserB)
	}
	system := "Score the sentiment of each user pair from these interactions. Reply with ONLY a JSON array: " +
		`[{"user_a":"","user_b":"","sentiment":0.0}] with sentiment in [-1,1].`

	var pairs []PairSentiment
	err := withRetry(ctx, "sentiment", func(ctx context.Context) error {
		raw, err := p.chat(ctx, []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: b.String()},
		}, 0.2)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(extractJSON(raw)), &pairs)
	})
	if err != nil {
		return nil, err
	}
	out := pairs[:0]
	for _, pr := range pairs {
		if pr.UserA == "" || pr.UserB == "" || pr.UserA == pr.UserB {
			continue
		}
		if pr.Sentiment > 1 {
			pr.Sentiment = 1
		} else if pr.Sentiment < -1 {
			pr.Sentiment = -1
		}
		out = append(out, pr)
	}
	return out, nil
}

// formatBundle renders the recall bundle for the decision prompt.
func formatBundle(bundle memory.ContextBundle) string {
	var b strings.Builder
	if len(bundle.Recent) > 0 {
		b.WriteString("Recent channel messages:\n")
		for _, e := range bundle.Recent {
			fmt.Fprintf(&b, "%s: %s\n", e.AuthorID, e.Text)
		}
	}
	if len(bundle.Records) > 0 {
		b.WriteString("Remembered:\n")
		for _, r := range bundle.Records {
			fmt.Fprintf(&b, "- %s\n", r.Text)
		}
	}
	return b.String()
}

// extractJSON trims anything around the outermost JSON value; models pad
// replies with prose and code fences.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	end := strings.LastIndexAny(s, "]}")
	if end < start {
		return s
	}
	return s[start : end+1]
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}
