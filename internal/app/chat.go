package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ludex/internal/util"
	"ludex/pkg/domain"
)

// historyWindow bounds how much conversation history gets replayed to
// the model; the stored transcript is unbounded.
const historyWindow = 10

// ChatResult is the outcome of one Ask exchange.
type ChatResult struct {
	ConversationID string               `json:"conversationId"`
	Message        string               `json:"message"`
	Messages       []domain.ChatMessage `json:"messages"`
}

// Ask answers a rules question against a completed game and appends the
// exchange to the user's conversation for that game.
func (a *App) Ask(ctx context.Context, userID, gameID, message string) (ChatResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatResult{}, fmt.Errorf("%w: message required", ErrInvalidInput)
	}
	game, err := a.ownedGame(ctx, userID, gameID)
	if err != nil {
		return ChatResult{}, err
	}
	if game.Status != domain.StatusCompleted {
		return ChatResult{}, ErrNotReady
	}

	conv, err := a.ensureConversation(ctx, game, userID)
	if err != nil {
		return ChatResult{}, err
	}

	history := conv.Messages
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	answer, err := a.synth.Chat(ctx, game, history, message)
	if err != nil {
		return ChatResult{}, fmt.Errorf("chat completion: %w", err)
	}

	now := time.Now().UTC()
	conv.Messages = append(conv.Messages,
		domain.ChatMessage{Role: domain.RoleUser, Content: message, Timestamp: now},
		domain.ChatMessage{Role: domain.RoleAssistant, Content: answer, Timestamp: now},
	)
	conv.UpdatedAt = now
	// The answer already happened; losing one transcript entry is
	// preferable to failing the request.
	if err := a.store.UpsertConversation(ctx, conv); err != nil {
		a.logger.Warn("conversation persist failed", "game_id", gameID, "error", err)
	}
	return ChatResult{
		ConversationID: conv.ID,
		Message:        answer,
		Messages:       conv.Messages,
	}, nil
}

// History returns the stored transcript for a game, empty when no
// conversation exists yet.
func (a *App) History(ctx context.Context, userID, gameID string) ([]domain.ChatMessage, error) {
	if _, err := a.ownedGame(ctx, userID, gameID); err != nil {
		return nil, err
	}
	conv, ok, err := a.store.GetConversation(ctx, gameID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return conv.Messages, nil
}

func (a *App) ensureConversation(ctx context.Context, game domain.Game, userID string) (domain.Conversation, error) {
	conv, ok, err := a.store.GetConversation(ctx, game.ID, userID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if ok {
		return conv, nil
	}
	now := time.Now().UTC()
	return domain.Conversation{
		ID:        util.NewID(),
		GameID:    game.ID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
