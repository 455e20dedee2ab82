package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oremus-labs/agent-dispatch/internal/chat"
	"github.com/oremus-labs/agent-dispatch/internal/profile"
)

// APIKeyVariable is the payload variable that may carry a per-request OpenAI key.
const APIKeyVariable = "OPENAI_API_KEY"

// ErrMissingAPIKey is returned when neither the payload nor the process carries a key.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not found in environment or variables")

// Source produces the response for a message as ordered text fragments.
// Iteration stops at the first error.
type Source interface {
	Stream(ctx context.Context, msg *chat.Message) iter.Seq2[string, error]
}

// CannedSource streams a fixed text one word at a time.
type CannedSource struct {
	Text string
}

// Fragments splits text into words, each followed by a single space.
func Fragments(text string) []string {
	words := strings.Fields(text)
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w + " "
	}
	return out
}

// Stream implements Source.
func (s CannedSource) Stream(ctx context.Context, _ *chat.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, frag := range Fragments(s.Text) {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
	}
}

// OpenAIOptions configure OpenAISource.
type OpenAIOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	Profile profile.Profile
}

// OpenAISource streams chat completion deltas.
type OpenAISource struct {
	apiKey  string
	model   string
	baseURL string
	profile profile.Profile
}

// NewOpenAISource builds a streaming completion source.
func NewOpenAISource(opts OpenAIOptions) *OpenAISource {
	model := opts.Model
	if opts.Profile.Model != "" {
		model = opts.Profile.Model
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAISource{
		apiKey:  opts.APIKey,
		model:   model,
		baseURL: opts.BaseURL,
		profile: opts.Profile,
	}
}

// APIKey returns the key used for msg: the payload variable wins over the process key.
func (s *OpenAISource) APIKey(msg *chat.Message) string {
	if key := msg.Variable(APIKeyVariable); key != "" {
		return key
	}
	return s.apiKey
}

// Stream implements Source.
func (s *OpenAISource) Stream(ctx context.Context, msg *chat.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		key := s.APIKey(msg)
		if key == "" {
			yield("", ErrMissingAPIKey)
			return
		}
		cfg := openai.DefaultConfig(key)
		if s.baseURL != "" {
			cfg.BaseURL = s.baseURL
		}
		client := openai.NewClientWithConfig(cfg)

		model := s.model
		if msg.Model != "" {
			model = msg.Model
		}
		stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: s.profile.SystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: msg.Message},
			},
			Temperature: s.profile.Temperature,
			Stream:      true,
		})
		if err != nil {
			yield("", fmt.Errorf("open completion stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("receive completion delta: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

// SelectSource uses OpenAI when a key is available for the message and the
// canned reply otherwise.
type SelectSource struct {
	OpenAI *OpenAISource
	Canned Source
}

// Stream implements Source.
func (s SelectSource) Stream(ctx context.Context, msg *chat.Message) iter.Seq2[string, error] {
	if s.OpenAI != nil && s.OpenAI.APIKey(msg) != "" {
		return s.OpenAI.Stream(ctx, msg)
	}
	return s.Canned.Stream(ctx, msg)
}

// NewSource builds the default source for a profile and process key.
func NewSource(p profile.Profile, apiKey, model string) Source {
	return SelectSource{
		OpenAI: NewOpenAISource(OpenAIOptions{APIKey: apiKey, Model: model, Profile: p}),
		Canned: CannedSource{Text: p.CannedReply},
	}
}
