package domain

import "time"

type GameStatus string

const (
	StatusProcessing GameStatus = "processing"
	StatusCompleted  GameStatus = "completed"
	StatusError      GameStatus = "error"
)

// Section is one synthesized chapter of the rulebook summary.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Order   int    `json:"order"`
}

type StrategyTip struct {
	Tip      string `json:"tip"`
	Category string `json:"category"`
}

// QuickStart is the condensed "how to start playing" block.
type QuickStart struct {
	Setup     string   `json:"setup"`
	FirstTurn string   `json:"firstTurn"`
	KeyRules  []string `json:"keyRules"`
}

// Game is one uploaded rulebook and its derived content.
// Content fields stay empty until synthesis completes and are
// overwritten wholesale on each successful processing attempt.
type Game struct {
	ID           string        `json:"gameId"`
	UserID       string        `json:"userId"`
	Title        string        `json:"title"`
	PDFURL       string        `json:"pdfUrl"`
	PDFFileName  string        `json:"pdfFileName"`
	Status       GameStatus    `json:"status"`
	Sections     []Section     `json:"sections"`
	StrategyTips []StrategyTip `json:"strategyTips"`
	QuickStart   QuickStart    `json:"quickStart"`
	OGImageURL   string        `json:"ogImageUrl,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation holds the chat history of one (game, user) pair.
// Messages are read, appended to, and written back in full; the
// sheet layer has no partial-append primitive.
type Conversation struct {
	ID        string        `json:"conversationId"`
	GameID    string        `json:"gameId"`
	UserID    string        `json:"userId"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
