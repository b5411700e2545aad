package narrative

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/emissionwatch/internal/models"
)

const systemPrompt = "You are an environmental compliance assistant. Summarise emissions predictions " +
	"for a plant operator in at most three sentences. Mention parameters that exceed their threshold " +
	"first. Do not invent numbers that are not in the data."

// Summarizer writes result summaries with an OpenAI chat model.
type Summarizer struct {
	client openai.Client
	model  string
}

// NewSummarizerFromEnv reads OPENAI_API_KEY for authentication.
func NewSummarizerFromEnv(model string) (*Summarizer, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	return NewSummarizer(apiKey, model), nil
}

func NewSummarizer(apiKey, model string, opts ...option.RequestOption) *Summarizer {
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Summarizer{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (s *Summarizer) Summarize(ctx context.Context, res *models.PredictionResult) (string, error) {
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(Prompt(res)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion returned")
	}
	log.Printf("narrative: summarised %d rows with %s", len(res.Rows), s.model)
	return text, nil
}

// Prompt renders the result as the user message sent to the model.
func Prompt(res *models.PredictionResult) string {
	var b strings.Builder
	b.WriteString(Build(res))
	b.WriteString("\n\nPer parameter:\n")
	for _, st := range Stats(res) {
		fmt.Fprintf(&b, "- %s (%s): %d rows, max predicted %.2f", st.DisplayName, st.Code, st.Rows, st.MaxPredicted)
		if st.Threshold != nil {
			fmt.Fprintf(&b, ", threshold %.2f, %d above", *st.Threshold, st.Warnings)
		}
		b.WriteString("\n")
	}
	return b.String()
}
