package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ludex/pkg/domain"
)

// ErrNotFound is returned for updates and deletes of unknown records.
var ErrNotFound = errors.New("sheets: record not found")

// SheetsStore persists games and conversations in a Google spreadsheet.
// Lookups are linear scans over the data rows; the tables are small
// (one user's library) so this stays well within quota.
type SheetsStore struct {
	client *Client
}

func NewSheetsStore(client *Client) *SheetsStore {
	return &SheetsStore{client: client}
}

var _ Store = (*SheetsStore)(nil)

func (s *SheetsStore) CreateGame(ctx context.Context, g domain.Game) error {
	row, err := encodeGameRow(g)
	if err != nil {
		return err
	}
	return s.client.appendRow(ctx, gamesRange, row)
}

func (s *SheetsStore) GetGame(ctx context.Context, gameID string) (domain.Game, bool, error) {
	g, _, err := s.findGame(ctx, gameID)
	if errors.Is(err, ErrNotFound) {
		return domain.Game{}, false, nil
	}
	if err != nil {
		return domain.Game{}, false, err
	}
	return g, true, nil
}

func (s *SheetsStore) ListGamesByUser(ctx context.Context, userID string) ([]domain.Game, error) {
	rows, err := s.client.getValues(ctx, gamesRange)
	if err != nil {
		return nil, err
	}
	var games []domain.Game
	for _, row := range rows {
		if len(row) == 0 || row[0] == "" {
			continue
		}
		g, err := decodeGameRow(row)
		if err != nil {
			return nil, err
		}
		if g.UserID == userID {
			games = append(games, g)
		}
	}
	return games, nil
}

func (s *SheetsStore) UpdateGame(ctx context.Context, gameID string, update GameUpdate) error {
	_, rowNum, err := s.findGame(ctx, gameID)
	if err != nil {
		return err
	}

	var data []valueRange
	setCell := func(column rune, value string) {
		data = append(data, valueRange{
			Range:  cellRef(gamesSheet, column, rowNum),
			Values: [][]string{{value}},
		})
	}
	setJSONCell := func(column rune, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		setCell(column, string(raw))
		return nil
	}

	setCell('G', update.UpdatedAt.UTC().Format(timeLayout))
	if update.Status != nil {
		setCell('H', string(*update.Status))
	}
	if update.OGImageURL != nil {
		setCell('I', *update.OGImageURL)
	}
	if update.Sections != nil {
		if err := setJSONCell('J', *update.Sections); err != nil {
			return fmt.Errorf("encode sections: %w", err)
		}
	}
	if update.StrategyTips != nil {
		if err := setJSONCell('K', *update.StrategyTips); err != nil {
			return fmt.Errorf("encode strategy tips: %w", err)
		}
	}
	if update.QuickStart != nil {
		if err := setJSONCell('L', *update.QuickStart); err != nil {
			return fmt.Errorf("encode quick start: %w", err)
		}
	}
	if update.ErrorMessage != nil {
		setCell('M', *update.ErrorMessage)
	}
	return s.client.batchUpdate(ctx, data)
}

func (s *SheetsStore) DeleteGame(ctx context.Context, gameID string) error {
	_, rowNum, err := s.findGame(ctx, gameID)
	if err != nil {
		return err
	}
	return s.client.clearRange(ctx, rowRef(gamesSheet, rowNum, gameColumns))
}

func (s *SheetsStore) GetConversation(ctx context.Context, gameID, userID string) (domain.Conversation, bool, error) {
	rows, err := s.client.getValues(ctx, conversationsRange)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	for _, row := range rows {
		if len(row) < 3 || row[0] == "" {
			continue
		}
		if row[1] == gameID && row[2] == userID {
			c, err := decodeConversationRow(row)
			if err != nil {
				return domain.Conversation{}, false, err
			}
			return c, true, nil
		}
	}
	return domain.Conversation{}, false, nil
}

func (s *SheetsStore) UpsertConversation(ctx context.Context, c domain.Conversation) error {
	rows, err := s.client.getValues(ctx, conversationsRange)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if len(row) == 0 || row[0] != c.ID {
			continue
		}
		rowNum := firstDataRow + i
		messages, err := json.Marshal(c.Messages)
		if err != nil {
			return fmt.Errorf("encode messages: %w", err)
		}
		return s.client.batchUpdate(ctx, []valueRange{
			{Range: cellRef(conversationsSheet, 'D', rowNum), Values: [][]string{{string(messages)}}},
			{Range: cellRef(conversationsSheet, 'F', rowNum), Values: [][]string{{c.UpdatedAt.UTC().Format(timeLayout)}}},
		})
	}
	row, err := encodeConversationRow(c)
	if err != nil {
		return err
	}
	return s.client.appendRow(ctx, conversationsRange, row)
}

// findGame returns the decoded game and its 1-based sheet row number.
func (s *SheetsStore) findGame(ctx context.Context, gameID string) (domain.Game, int, error) {
	rows, err := s.client.getValues(ctx, gamesRange)
	if err != nil {
		return domain.Game{}, 0, err
	}
	for i, row := range rows {
		if len(row) == 0 || row[0] != gameID {
			continue
		}
		g, err := decodeGameRow(row)
		if err != nil {
			return domain.Game{}, 0, err
		}
		return g, firstDataRow + i, nil
	}
	return domain.Game{}, 0, ErrNotFound
}
