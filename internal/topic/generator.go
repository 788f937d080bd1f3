package topic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DoyleJ11/impostor/internal/ai"
)

const DefaultPrompt = "Generate a creative, common-knowledge topic for a social deduction game. " +
	"It MUST be a single, simple noun (e.g. 'Toaster', 'Eiffel Tower', 'Penguin'). Avoid activities, phrases, or verbs. " +
	`Reply with a JSON object {"category": "...", "topic": "..."} where category is a simple category ` +
	"like 'Location', 'Job', 'Animal', 'Object', or 'Food'."

const systemPrompt = "You pick secret words for a party game. Answer with a single JSON object and nothing else."

// Generator asks a language model for a fresh topic.
type Generator struct {
	Client ai.Completer
	Model  string
	Prompt string
}

func (g Generator) RequestTopic(ctx context.Context) (Topic, error) {
	prompt := g.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	out, err := g.Client.CompleteWithSystem(ctx, g.Model, systemPrompt, prompt)
	if err != nil {
		return Topic{}, fmt.Errorf("generate topic: %w", err)
	}
	return ParseTopic(out)
}

// ParseTopic reads a {"category","topic"} object out of a model reply,
// ignoring markdown code fences and text around the object.
func ParseTopic(reply string) (Topic, error) {
	s := strings.TrimSpace(reply)
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return Topic{}, fmt.Errorf("%w: no JSON object in reply", ErrInvalidTopic)
	}

	var t Topic
	if err := json.Unmarshal([]byte(s[start:end+1]), &t); err != nil {
		return Topic{}, fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	t.Category = strings.TrimSpace(t.Category)
	t.Topic = strings.TrimSpace(t.Topic)
	if err := t.validate(); err != nil {
		return Topic{}, err
	}
	return t, nil
}
