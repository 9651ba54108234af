package narrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/reverie-gm/reverie/internal/store"
)

const defaultModel = "claude-sonnet-4-20250514"

const systemPromptTemplate = `You are the game master of an ongoing interactive narrative.
Stay in second person, keep responses under five paragraphs, and never speak for the player.

Current scene: %s`

// AnthropicNarrator implements Executor and Summarizer against the Anthropic
// Messages API.
type AnthropicNarrator struct {
	client anthropic.Client
	model  string
}

// NewAnthropicNarrator creates a narrator backed by the Anthropic API.
func NewAnthropicNarrator(apiKey, model string) *AnthropicNarrator {
	if model == "" {
		model = defaultModel
	}
	return &AnthropicNarrator{
		client: anthropic.NewClient(anthropicoption.WithAPIKey(apiKey)),
		model:  model,
	}
}

// ExecuteTurn streams one narrator reply for the player's input.
func (n *AnthropicNarrator) ExecuteTurn(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	if strings.TrimSpace(req.PlayerInput) == "" {
		return nil, fmt.Errorf("player input is empty")
	}

	msgs := buildMessages(req.History, req.PlayerInput)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(n.model),
		Messages:  msgs,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: fmt.Sprintf(systemPromptTemplate, req.SceneDescription)},
		},
	}

	stream := n.client.Messages.NewStreaming(ctx, params)

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			select {
			case <-ctx.Done():
				ch <- Event{Type: EventError, Err: ctx.Err()}
				return
			default:
			}

			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if d, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok {
					ch <- Event{Type: EventText, Text: d.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- Event{Type: EventError, Err: err}
			return
		}
		// The Anthropic API has no session continuity handle; the adventure's
		// existing agent session id stays as-is.
		ch <- Event{Type: EventDone, AgentSessionID: req.AgentSessionID}
	}()
	return ch, nil
}

// Summarize produces a recap of the given entries.
func (n *AnthropicNarrator) Summarize(ctx context.Context, entries []store.Entry) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}

	var transcript strings.Builder
	for _, e := range entries {
		role := "Player"
		if e.Type == store.EntryGMResponse {
			role = "GM"
		}
		fmt.Fprintf(&transcript, "%s: %s\n", role, e.Content)
	}

	msg, err := n.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(n.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: "Summarize this adventure transcript in a few tight paragraphs. Preserve named characters, open threads, and the party's current goal."},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(transcript.String())),
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(text.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("summarize: empty response")
	}
	return out.String(), nil
}

func buildMessages(history []store.Entry, playerInput string) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, e := range history {
		block := anthropic.NewTextBlock(e.Content)
		if e.Type == store.EntryGMResponse {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(playerInput)))
	return msgs
}
