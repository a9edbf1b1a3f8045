package sheets

import (
	"encoding/json"
	"fmt"
	"time"

	"ludex/pkg/domain"
)

// Sheet layout. Games occupy columns A through M, conversations A
// through F. Structured fields are stored as JSON text in single cells.
const (
	gamesSheet         = "games"
	gamesRange         = "games!A2:M"
	conversationsSheet = "conversations"
	conversationsRange = "conversations!A2:F"

	gameColumns         = 13
	conversationColumns = 6

	// First data row; row 1 holds the header.
	firstDataRow = 2

	timeLayout = time.RFC3339
)

func encodeGameRow(g domain.Game) ([]string, error) {
	sections, err := json.Marshal(g.Sections)
	if err != nil {
		return nil, fmt.Errorf("encode sections: %w", err)
	}
	tips, err := json.Marshal(g.StrategyTips)
	if err != nil {
		return nil, fmt.Errorf("encode strategy tips: %w", err)
	}
	quickStart, err := json.Marshal(g.QuickStart)
	if err != nil {
		return nil, fmt.Errorf("encode quick start: %w", err)
	}
	return []string{
		g.ID,
		g.Title,
		g.UserID,
		g.PDFURL,
		g.PDFFileName,
		g.CreatedAt.UTC().Format(timeLayout),
		g.UpdatedAt.UTC().Format(timeLayout),
		string(g.Status),
		g.OGImageURL,
		string(sections),
		string(tips),
		string(quickStart),
		g.ErrorMessage,
	}, nil
}

func decodeGameRow(row []string) (domain.Game, error) {
	cell := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	g := domain.Game{
		ID:           cell(0),
		Title:        cell(1),
		UserID:       cell(2),
		PDFURL:       cell(3),
		PDFFileName:  cell(4),
		Status:       domain.GameStatus(cell(7)),
		OGImageURL:   cell(8),
		ErrorMessage: cell(12),
	}
	var err error
	if g.CreatedAt, err = parseTimeCell(cell(5)); err != nil {
		return domain.Game{}, fmt.Errorf("game %s createdAt: %w", g.ID, err)
	}
	if g.UpdatedAt, err = parseTimeCell(cell(6)); err != nil {
		return domain.Game{}, fmt.Errorf("game %s updatedAt: %w", g.ID, err)
	}
	if err := decodeJSONCell(cell(9), &g.Sections); err != nil {
		return domain.Game{}, fmt.Errorf("game %s sections: %w", g.ID, err)
	}
	if err := decodeJSONCell(cell(10), &g.StrategyTips); err != nil {
		return domain.Game{}, fmt.Errorf("game %s strategy tips: %w", g.ID, err)
	}
	if err := decodeJSONCell(cell(11), &g.QuickStart); err != nil {
		return domain.Game{}, fmt.Errorf("game %s quick start: %w", g.ID, err)
	}
	return g, nil
}

func encodeConversationRow(c domain.Conversation) ([]string, error) {
	messages, err := json.Marshal(c.Messages)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return []string{
		c.ID,
		c.GameID,
		c.UserID,
		string(messages),
		c.CreatedAt.UTC().Format(timeLayout),
		c.UpdatedAt.UTC().Format(timeLayout),
	}, nil
}

func decodeConversationRow(row []string) (domain.Conversation, error) {
	cell := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	c := domain.Conversation{
		ID:     cell(0),
		GameID: cell(1),
		UserID: cell(2),
	}
	if err := decodeJSONCell(cell(3), &c.Messages); err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation %s messages: %w", c.ID, err)
	}
	var err error
	if c.CreatedAt, err = parseTimeCell(cell(4)); err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation %s createdAt: %w", c.ID, err)
	}
	if c.UpdatedAt, err = parseTimeCell(cell(5)); err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation %s updatedAt: %w", c.ID, err)
	}
	return c, nil
}

func parseTimeCell(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func decodeJSONCell(s string, out any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}

// cellRef builds an A1 reference for a single cell, e.g. games!J5.
func cellRef(sheet string, column rune, row int) string {
	return fmt.Sprintf("%s!%c%d", sheet, column, row)
}

// rowRef builds an A1 reference for a whole data row.
func rowRef(sheet string, row, columns int) string {
	return fmt.Sprintf("%s!A%d:%c%d", sheet, row, rune('A'+columns-1), row)
}
