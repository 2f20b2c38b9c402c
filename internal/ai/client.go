// Package ai scores watchlist candidates with an OpenAI-compatible model.
// It is optional: when disabled the scanner just skips scoring.
package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/logger"
)

type Client struct {
	client *openai.Client
	model  string
	cfg    *config.Config
	logger *logger.Logger
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	ocfg := openai.DefaultConfig(cfg.AI.APIKey)
	ocfg.BaseURL = cfg.AI.BaseURL

	return &Client{
		client: openai.NewClientWithConfig(ocfg),
		model:  cfg.AI.Model,
		cfg:    cfg,
		logger: log,
	}
}

// ScoreCandidates asks the model for a 0-100 score per candidate. The raw
// response is returned alongside for the analysis log.
func (c *Client) ScoreCandidates(ctx context.Context, candidates []CandidateInput) ([]Score, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AITimeout())
	defer cancel()

	userPrompt := BuildScoringPrompt(candidates)

	c.logger.Info("sending scoring request", "candidates", len(candidates))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, "", fmt.Errorf("ai API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, "", fmt.Errorf("ai returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	c.logger.Debug("ai raw response", "content", raw)

	scores, err := ParseScores(raw)
	if err != nil {
		return nil, raw, fmt.Errorf("parse ai response: %w", err)
	}
	return scores, raw, nil
}
