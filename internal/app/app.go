// Package app holds the application core: the rulebook ingestion
// pipeline and the rules chat, independent of the HTTP layer.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"ludex/internal/util"
	"ludex/pkg/ai"
	"ludex/pkg/domain"
	"ludex/pkg/imagesearch"
	"ludex/pkg/pdftext"
	"ludex/pkg/queue"
	"ludex/pkg/sheets"
	"ludex/pkg/storage"
)

// minRulesTextChars guards against scanned or image-only PDFs that
// yield no usable text.
const minRulesTextChars = 100

// maxCoverImageBytes caps cover art fetched from image providers.
const maxCoverImageBytes = 10 << 20

// Enqueuer hands a game id to the background processing workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, gameID string) (queue.JobStatus, error)
}

// TextExtractor pulls plain text out of a PDF.
type TextExtractor interface {
	Extract(data []byte) (string, error)
}

type Config struct {
	Store     sheets.Store
	Blobs     storage.BlobStore
	Synth     ai.Synthesizer
	Images    *imagesearch.Searcher
	Queue     Enqueuer
	Extractor TextExtractor
	Logger    *slog.Logger
}

type App struct {
	store      sheets.Store
	blobs      storage.BlobStore
	synth      ai.Synthesizer
	images     *imagesearch.Searcher
	queue      Enqueuer
	extractor  TextExtractor
	logger     *slog.Logger
	httpClient *http.Client
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: record store required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("app: blob store required")
	}
	if cfg.Synth == nil {
		return nil, errors.New("app: synthesizer required")
	}
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = &pdftext.Extractor{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store:      cfg.Store,
		blobs:      cfg.Blobs,
		synth:      cfg.Synth,
		images:     cfg.Images,
		queue:      cfg.Queue,
		extractor:  extractor,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Upload stores the rulebook PDF, creates the game record in the
// processing state, and hands the game to the background workers. The
// record is the source of truth: if it cannot be written the stored
// blob is removed again.
func (a *App) Upload(ctx context.Context, userID, fileName string, r io.Reader, size int64) (domain.Game, error) {
	fileName = path.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." {
		return domain.Game{}, fmt.Errorf("%w: file name required", ErrInvalidInput)
	}
	if !strings.EqualFold(path.Ext(fileName), ".pdf") {
		return domain.Game{}, fmt.Errorf("%w: only PDF rulebooks are supported", ErrInvalidInput)
	}

	key := pdfKey(userID, fileName)
	pdfURL, err := a.blobs.Put(ctx, key, r, size, "application/pdf")
	if err != nil {
		return domain.Game{}, fmt.Errorf("store rulebook: %w", err)
	}

	now := time.Now().UTC()
	game := domain.Game{
		ID:          util.NewID(),
		UserID:      userID,
		Title:       titleFromFileName(fileName),
		PDFURL:      pdfURL,
		PDFFileName: fileName,
		Status:      domain.StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateGame(ctx, game); err != nil {
		if delErr := a.blobs.Delete(ctx, key); delErr != nil {
			a.logger.Warn("orphaned rulebook blob after failed record create",
				"key", key, "error", delErr)
		}
		return domain.Game{}, fmt.Errorf("create game record: %w", err)
	}

	// Enqueue is fire-and-forget: the game stays in processing and can
	// be kicked again through the process endpoint.
	if a.queue != nil {
		if _, err := a.queue.Enqueue(ctx, game.ID); err != nil {
			a.logger.Warn("enqueue processing job failed", "game_id", game.ID, "error", err)
		}
	}
	return game, nil
}

// Process runs extraction and synthesis for a user's game, invoked from
// the process endpoint. Completed games are returned as-is.
func (a *App) Process(ctx context.Context, userID, gameID string) (domain.Game, error) {
	game, err := a.ownedGame(ctx, userID, gameID)
	if err != nil {
		return domain.Game{}, err
	}
	if game.Status == domain.StatusCompleted {
		return game, nil
	}
	if err := a.process(ctx, game); err != nil {
		return domain.Game{}, err
	}
	return a.ownedGame(ctx, userID, gameID)
}

// HandleJob is the queue worker entry point. Semantic failures are
// recorded on the game record and not retried by the queue; only
// infrastructure errors before the record could be updated propagate.
func (a *App) HandleJob(ctx context.Context, job queue.JobStatus) error {
	game, ok, err := a.store.GetGame(ctx, job.GameID)
	if err != nil {
		return err
	}
	if !ok {
		a.logger.Warn("processing job for unknown game", "game_id", job.GameID)
		return nil
	}
	if game.Status == domain.StatusCompleted {
		return nil
	}
	if err := a.process(ctx, game); err != nil {
		a.logger.Error("rulebook processing failed", "game_id", game.ID, "error", err)
	}
	return nil
}

func (a *App) process(ctx context.Context, game domain.Game) error {
	data, err := a.readRulebook(ctx, game)
	if err != nil {
		a.failGame(ctx, game.ID, "could not read the uploaded PDF")
		return err
	}
	text, err := a.extractor.Extract(data)
	if err != nil {
		a.failGame(ctx, game.ID, "could not extract text from the PDF")
		return fmt.Errorf("extract text: %w", err)
	}
	if len(text) < minRulesTextChars {
		a.failGame(ctx, game.ID, "the PDF contains too little readable text")
		return fmt.Errorf("extracted only %d chars of text", len(text))
	}

	content, err := a.synth.SynthesizeRules(ctx, game.Title, text)
	if err != nil {
		a.failGame(ctx, game.ID, "could not synthesize the rules")
		return fmt.Errorf("synthesize rules: %w", err)
	}

	status := domain.StatusCompleted
	empty := ""
	update := sheets.GameUpdate{
		Status:       &status,
		Sections:     &content.Sections,
		StrategyTips: &content.StrategyTips,
		QuickStart:   &content.QuickStart,
		ErrorMessage: &empty,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := a.store.UpdateGame(ctx, game.ID, update); err != nil {
		return fmt.Errorf("record synthesized rules: %w", err)
	}
	a.logger.Info("rulebook processed", "game_id", game.ID, "sections", len(content.Sections))
	return nil
}

func (a *App) readRulebook(ctx context.Context, game domain.Game) ([]byte, error) {
	rc, err := a.blobs.Get(ctx, pdfKey(game.UserID, game.PDFFileName))
	if err != nil {
		return nil, fmt.Errorf("fetch rulebook: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read rulebook: %w", err)
	}
	return data, nil
}

// failGame records the error state; a write failure here only logs,
// the processing error itself is what gets reported.
func (a *App) failGame(ctx context.Context, gameID, message string) {
	status := domain.StatusError
	update := sheets.GameUpdate{
		Status:       &status,
		ErrorMessage: &message,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := a.store.UpdateGame(ctx, gameID, update); err != nil {
		a.logger.Error("could not record error state", "game_id", gameID, "error", err)
	}
}

func (a *App) GetGame(ctx context.Context, userID, gameID string) (domain.Game, error) {
	return a.readableGame(ctx, userID, gameID)
}

func (a *App) ListGames(ctx context.Context, userID string) ([]domain.Game, error) {
	return a.store.ListGamesByUser(ctx, userID)
}

// DeleteGame removes the record and then cleans up the blobs
// best-effort; a stranded blob is logged, not surfaced.
func (a *App) DeleteGame(ctx context.Context, userID, gameID string) error {
	game, err := a.ownedGame(ctx, userID, gameID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteGame(ctx, gameID); err != nil {
		return fmt.Errorf("delete game record: %w", err)
	}
	for _, key := range []string{pdfKey(game.UserID, game.PDFFileName), ogImageKey(game.ID)} {
		if err := a.blobs.Delete(ctx, key); err != nil {
			a.logger.Warn("blob cleanup failed", "game_id", gameID, "key", key, "error", err)
		}
	}
	return nil
}

// GenerateCoverImage asks the image providers for cover art. A hit is
// downloaded and rehosted in the blob store so the game never links to
// a third-party URL. The false return means no provider had a result;
// the game is left untouched.
func (a *App) GenerateCoverImage(ctx context.Context, userID, gameID string) (domain.Game, bool, error) {
	game, err := a.ownedGame(ctx, userID, gameID)
	if err != nil {
		return domain.Game{}, false, err
	}
	if a.images == nil {
		return game, false, nil
	}
	res, ok := a.images.Search(ctx, game.Title)
	if !ok {
		return game, false, nil
	}
	url, err := a.rehostImage(ctx, game.ID, res.URL)
	if err != nil {
		return domain.Game{}, false, fmt.Errorf("rehost cover image: %w", err)
	}
	if err := a.setCoverImage(ctx, &game, url); err != nil {
		return domain.Game{}, false, err
	}
	return game, true, nil
}

func (a *App) rehostImage(ctx context.Context, gameID, srcURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: %s", srcURL, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverImageBytes))
	if err != nil {
		return "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}
	return a.blobs.Put(ctx, ogImageKey(gameID), bytes.NewReader(data), int64(len(data)), contentType)
}

// UploadCoverImage stores user-provided cover art in the blob store and
// points the game at it.
func (a *App) UploadCoverImage(ctx context.Context, userID, gameID string, r io.Reader, size int64, contentType string) (domain.Game, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return domain.Game{}, fmt.Errorf("%w: cover must be an image", ErrInvalidInput)
	}
	game, err := a.ownedGame(ctx, userID, gameID)
	if err != nil {
		return domain.Game{}, err
	}
	url, err := a.blobs.Put(ctx, ogImageKey(game.ID), r, size, contentType)
	if err != nil {
		return domain.Game{}, fmt.Errorf("store cover image: %w", err)
	}
	if err := a.setCoverImage(ctx, &game, url); err != nil {
		return domain.Game{}, err
	}
	return game, nil
}

func (a *App) setCoverImage(ctx context.Context, game *domain.Game, url string) error {
	update := sheets.GameUpdate{
		OGImageURL: &url,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := a.store.UpdateGame(ctx, game.ID, update); err != nil {
		return fmt.Errorf("record cover image: %w", err)
	}
	game.OGImageURL = url
	game.UpdatedAt = update.UpdatedAt
	return nil
}

// ownedGame loads a game and enforces ownership. Mutations report a
// foreign game as ErrUnauthorized; reads translate that to ErrNotFound
// so ids cannot be probed.
func (a *App) ownedGame(ctx context.Context, userID, gameID string) (domain.Game, error) {
	if strings.TrimSpace(gameID) == "" {
		return domain.Game{}, fmt.Errorf("%w: game id required", ErrInvalidInput)
	}
	game, ok, err := a.store.GetGame(ctx, gameID)
	if err != nil {
		return domain.Game{}, err
	}
	if !ok {
		return domain.Game{}, ErrNotFound
	}
	if game.UserID != userID {
		return domain.Game{}, ErrUnauthorized
	}
	return game, nil
}

// readableGame is ownedGame for read paths.
func (a *App) readableGame(ctx context.Context, userID, gameID string) (domain.Game, error) {
	game, err := a.ownedGame(ctx, userID, gameID)
	if errors.Is(err, ErrUnauthorized) {
		return domain.Game{}, ErrNotFound
	}
	return game, err
}

func pdfKey(userID, fileName string) string {
	return "pdfs/" + userID + "/" + fileName
}

func ogImageKey(gameID string) string {
	return "og-images/" + gameID
}

// titleFromFileName derives the display title from the uploaded file
// name: extension stripped, dashes and underscores become spaces.
func titleFromFileName(fileName string) string {
	title := strings.TrimSuffix(fileName, path.Ext(fileName))
	title = strings.NewReplacer("-", " ", "_", " ").Replace(title)
	return strings.Join(strings.Fields(title), " ")
}
