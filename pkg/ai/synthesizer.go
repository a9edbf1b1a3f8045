// Package ai turns extracted rulebook text into structured game content
// and answers follow-up questions about a game.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ludex/pkg/domain"
)

const (
	defaultRulesModel = "gpt-3.5-turbo"
	defaultChatModel  = "gpt-4o-mini"

	// Prompt excerpt bound; synthesis only ever sees the opening of the
	// rulebook text.
	rulesExcerptChars = 5000

	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
)

// GameContent is the structured synthesis result written back to the
// game record on success.
type GameContent struct {
	Sections     []domain.Section     `json:"sections"`
	StrategyTips []domain.StrategyTip `json:"strategyTips"`
	QuickStart   domain.QuickStart    `json:"quickStart"`
}

// Synthesizer is the rule-synthesis collaborator used by the pipeline.
type Synthesizer interface {
	SynthesizeRules(ctx context.Context, title, rulesText string) (GameContent, error)
	Chat(ctx context.Context, game domain.Game, history []domain.ChatMessage, message string) (string, error)
}

// OpenAISynthesizer implements Synthesizer over the chat-completions API.
type OpenAISynthesizer struct {
	client      *Client
	rulesModel  string
	chatModel   string
	maxAttempts int
	retryDelay  time.Duration
}

// Config configures the synthesizer. Zero model names fall back to defaults.
type Config struct {
	APIKey     string
	BaseURL    string
	RulesModel string
	ChatModel  string
}

// NewOpenAISynthesizer fails fast when the API key is missing.
func NewOpenAISynthesizer(cfg Config) (*OpenAISynthesizer, error) {
	client, err := NewClient(cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	rulesModel := strings.TrimSpace(cfg.RulesModel)
	if rulesModel == "" {
		rulesModel = defaultRulesModel
	}
	chatModel := strings.TrimSpace(cfg.ChatModel)
	if chatModel == "" {
		chatModel = defaultChatModel
	}
	return &OpenAISynthesizer{
		client:      client,
		rulesModel:  rulesModel,
		chatModel:   chatModel,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}, nil
}

// SynthesizeRules asks the model for the structured rules/strategy/quick-start
// content. The API call is retried with linearly increasing delay; a reply
// that fails to parse is not retried.
func (s *OpenAISynthesizer) SynthesizeRules(ctx context.Context, title, rulesText string) (GameContent, error) {
	prompt := buildRulesPrompt(title, rulesText)
	req := chatRequest{
		Model:          s.rulesModel,
		Messages:       []chatMessage{{Role: domain.RoleUser, Content: prompt}},
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0.3,
		MaxTokens:      1500,
	}

	var reply string
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		reply, lastErr = s.client.complete(ctx, req)
		if lastErr == nil {
			break
		}
		if attempt == s.maxAttempts {
			return GameContent{}, fmt.Errorf("synthesize rules: %w", lastErr)
		}
		select {
		case <-ctx.Done():
			return GameContent{}, ctx.Err()
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		}
	}

	content, err := parseGameContent(reply)
	if err != nil {
		return GameContent{}, fmt.Errorf("synthesize rules: %w", err)
	}
	return content, nil
}

// Chat answers a question about the game using its synthesized content
// plus the bounded history supplied by the caller.
func (s *OpenAISynthesizer) Chat(ctx context.Context, game domain.Game, history []domain.ChatMessage, message string) (string, error) {
	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: buildChatSystemPrompt(game)})
	for _, msg := range history {
		role := domain.RoleAssistant
		if msg.Role == domain.RoleUser {
			role = domain.RoleUser
		}
		messages = append(messages, chatMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, chatMessage{Role: domain.RoleUser, Content: message})

	reply, err := s.client.complete(ctx, chatRequest{
		Model:       s.chatModel,
		Messages:    messages,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("chat response: %w", err)
	}
	return reply, nil
}

func buildRulesPrompt(title, rulesText string) string {
	runes := []rune(rulesText)
	if len(runes) > rulesExcerptChars {
		rulesText = string(runes[:rulesExcerptChars])
	}
	return fmt.Sprintf(`Analyze this board game rulebook and return JSON only:

Game: %s
Rules: %s

Return JSON:
{"sections":[{"title":"Title","content":"Content","order":1}],"strategyTips":[{"tip":"Tip","category":"Category"}],"quickStart":{"setup":"Setup","firstTurn":"First turn","keyRules":["Rule1","Rule2"]}}`, title, rulesText)
}

func buildChatSystemPrompt(game domain.Game) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a helpful assistant answering questions about the board game %q.\n\n", game.Title)
	if len(game.Sections) > 0 {
		sb.WriteString("Game Information:\n")
		for _, section := range game.Sections {
			fmt.Fprintf(&sb, "%s: %s\n", section.Title, snippet(section.Content, 200))
		}
		sb.WriteString("\n")
	}
	if len(game.StrategyTips) > 0 {
		sb.WriteString("Strategy Tips:\n")
		for _, tip := range game.StrategyTips {
			fmt.Fprintf(&sb, "- %s (%s)\n", tip.Tip, tip.Category)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Quick Start:\nSetup: %s\nFirst Turn: %s\nKey Rules: %s\n\n",
		game.QuickStart.Setup, game.QuickStart.FirstTurn, strings.Join(game.QuickStart.KeyRules, ", "))
	sb.WriteString("Answer clearly and concisely from the game rules above. If the question cannot be answered from the provided information, say so politely.")
	return sb.String()
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

// parseGameContent tolerates markdown code fences around the JSON body.
func parseGameContent(reply string) (GameContent, error) {
	cleaned := strings.ReplaceAll(reply, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)
	var content GameContent
	if err := json.Unmarshal([]byte(cleaned), &content); err != nil {
		return GameContent{}, fmt.Errorf("parse model output: %w", err)
	}
	return content, nil
}
