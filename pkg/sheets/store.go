package sheets

import (
	"context"
	"time"

	"ludex/pkg/domain"
)

// GameUpdate is a partial update; nil fields leave the stored cell
// untouched. UpdatedAt is always written.
type GameUpdate struct {
	Status       *domain.GameStatus
	Sections     *[]domain.Section
	StrategyTips *[]domain.StrategyTip
	QuickStart   *domain.QuickStart
	OGImageURL   *string
	ErrorMessage *string
	UpdatedAt    time.Time
}

// Store is the record store for games and conversations. Ownership
// checks live in the application layer; the store returns records by id.
type Store interface {
	CreateGame(ctx context.Context, g domain.Game) error
	GetGame(ctx context.Context, gameID string) (domain.Game, bool, error)
	ListGamesByUser(ctx context.Context, userID string) ([]domain.Game, error)
	UpdateGame(ctx context.Context, gameID string, update GameUpdate) error
	DeleteGame(ctx context.Context, gameID string) error

	GetConversation(ctx context.Context, gameID, userID string) (domain.Conversation, bool, error)
	UpsertConversation(ctx context.Context, c domain.Conversation) error
}
