package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

// Client wraps an OpenAI-compatible endpoint (OpenAI, SiliconFlow,
// local gateways) for embeddings and the instruction fallback.
type Client struct {
	api        *openai.Client
	chatModel  string
	embedModel string
}

type Config struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

func New(cfg Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(clientConfig),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.client.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: %d/%d", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) GenerateInstruction(ctx context.Context, utterance string, vocabulary []string) (domain.Value, error) {
	var prompt strings.Builder
	prompt.WriteString("Parse the user request into a strict JSON device instruction with a \"name\" key and parameter keys. Numbers must be JSON numbers.\n")
	if len(vocabulary) > 0 {
		prompt.WriteString("Known commands:\n")
		for _, known := range vocabulary {
			prompt.WriteString("- " + known + "\n")
		}
	}

	resp, err := g.client.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.client.chatModel,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.String()},
			{Role: openai.ChatMessageRoleUser, Content: utterance},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty completion response")
	}

	answer, err := domain.FromJSON([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		return nil, fmt.Errorf("parse instruction json: %w", err)
	}
	return answer, nil
}
