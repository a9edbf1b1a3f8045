package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"ludex/internal/app"
	"ludex/internal/ratelimit"
	"ludex/internal/session"
	"ludex/pkg/ai"
	"ludex/pkg/domain"
	"ludex/pkg/sheets"
)

type stubBlobs struct {
	objects map[string][]byte
}

func (s *stubBlobs) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.objects[key] = data
	return s.URL(key), nil
}

func (s *stubBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *stubBlobs) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func (s *stubBlobs) URL(key string) string { return "https://blobs.test/" + key }

type stubSynth struct{}

func (stubSynth) SynthesizeRules(context.Context, string, string) (ai.GameContent, error) {
	return ai.GameContent{
		Sections:   []domain.Section{{Title: "Setup", Content: "Deal five cards.", Order: 1}},
		QuickStart: domain.QuickStart{Setup: "Deal."},
	}, nil
}

func (stubSynth) Chat(context.Context, domain.Game, []domain.ChatMessage, string) (string, error) {
	return "Score ten points to win.", nil
}

type stubExtractor struct{}

func (stubExtractor) Extract([]byte) (string, error) {
	return strings.Repeat("the rules of the game ", 20), nil
}

type testServer struct {
	srv      *httptest.Server
	sessions *session.Verifier
}

func newTestServer(t *testing.T, opts ...func(*Config)) *testServer {
	t.Helper()
	a, err := app.New(app.Config{
		Store:     sheets.NewMemoryStore(),
		Blobs:     &stubBlobs{objects: make(map[string][]byte)},
		Synth:     stubSynth{},
		Extractor: stubExtractor{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	sessions, err := session.NewVerifier(session.Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	cfg := Config{App: a, Sessions: sessions}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, sessions: sessions}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := ts.sessions.Mint(userID, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, raw, err)
		}
	}
	return resp, decoded
}

func pdfUpload(t *testing.T, fileName string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("%PDF-1.4 fake"))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/games", "", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if msg, _ := body["error"].(string); msg == "" {
		t.Fatalf("body = %v, want error message", body)
	}
}

func TestRequestsWithForgedTokenRejected(t *testing.T) {
	ts := newTestServer(t)
	other, _ := session.NewVerifier(session.Config{Secret: "other-secret"})
	forged, _ := other.Mint("user-1", time.Hour)
	resp, _ := ts.do(t, http.MethodGet, "/api/games", forged, nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/healthz", "", nil, "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
}

func TestUploadProcessGetDeleteScenario(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.token(t, "user-1")

	body, contentType := pdfUpload(t, "catan-base-rules.pdf")
	resp, uploaded := ts.do(t, http.MethodPost, "/api/upload", owner, body, contentType)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d body %v", resp.StatusCode, uploaded)
	}
	gameID, _ := uploaded["gameId"].(string)
	if gameID == "" || uploaded["status"] != "processing" {
		t.Fatalf("upload body = %v", uploaded)
	}
	if uploaded["title"] != "catan base rules" {
		t.Fatalf("title = %v", uploaded["title"])
	}

	processBody := strings.NewReader(fmt.Sprintf(`{"gameId":%q}`, gameID))
	resp, processed := ts.do(t, http.MethodPost, "/api/process", owner, processBody, "application/json")
	if resp.StatusCode != http.StatusOK || processed["status"] != "completed" {
		t.Fatalf("process = %d %v", resp.StatusCode, processed)
	}

	resp, game := ts.do(t, http.MethodGet, "/api/games/"+gameID, owner, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	sections, _ := game["sections"].([]any)
	if len(sections) != 1 {
		t.Fatalf("sections = %v", game["sections"])
	}

	// Someone else can neither see nor delete the game.
	intruder := ts.token(t, "user-2")
	resp, _ = ts.do(t, http.MethodGet, "/api/games/"+gameID, intruder, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign get status = %d, want 404", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodDelete, "/api/games/"+gameID, intruder, nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("foreign delete status = %d, want 401", resp.StatusCode)
	}

	resp, deleted := ts.do(t, http.MethodDelete, "/api/games/"+gameID, owner, nil, "")
	if resp.StatusCode != http.StatusOK || deleted["success"] != true {
		t.Fatalf("delete = %d %v", resp.StatusCode, deleted)
	}
	resp, _ = ts.do(t, http.MethodGet, "/api/games/"+gameID, owner, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "user-1")
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "rules.txt")
	part.Write([]byte("just text"))
	mw.Close()

	resp, body := ts.do(t, http.MethodPost, "/api/upload", token, &buf, mw.FormDataContentType())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d body %v, want 400", resp.StatusCode, body)
	}
}

func TestProcessUnknownGame(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "user-1")
	resp, _ := ts.do(t, http.MethodPost, "/api/process", token, strings.NewReader(`{"gameId":"nope"}`), "application/json")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListGamesEmpty(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "user-1")
	resp, body := ts.do(t, http.MethodGet, "/api/games", token, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	games, ok := body["games"].([]any)
	if !ok || len(games) != 0 {
		t.Fatalf("games = %v, want empty array", body["games"])
	}
}

func TestChatFlow(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "user-1")

	body, contentType := pdfUpload(t, "rules.pdf")
	_, uploaded := ts.do(t, http.MethodPost, "/api/upload", token, body, contentType)
	gameID := uploaded["gameId"].(string)
	ts.do(t, http.MethodPost, "/api/process", token, strings.NewReader(fmt.Sprintf(`{"gameId":%q}`, gameID)), "application/json")

	chatBody := strings.NewReader(fmt.Sprintf(`{"gameId":%q,"message":"How do I win?"}`, gameID))
	resp, chat := ts.do(t, http.MethodPost, "/api/chat", token, chatBody, "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d body %v", resp.StatusCode, chat)
	}
	if chat["message"] != "Score ten points to win." {
		t.Fatalf("chat body = %v", chat)
	}
	if id, _ := chat["conversationId"].(string); id == "" {
		t.Fatalf("conversationId missing: %v", chat)
	}

	resp, history := ts.do(t, http.MethodGet, "/api/chat?gameId="+gameID, token, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	messages, _ := history["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("history = %v, want 2 messages", history["messages"])
	}
}

func TestChatBeforeProcessingRejected(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "user-1")
	body, contentType := pdfUpload(t, "rules.pdf")
	_, uploaded := ts.do(t, http.MethodPost, "/api/upload", token, body, contentType)
	gameID := uploaded["gameId"].(string)

	chatBody := strings.NewReader(fmt.Sprintf(`{"gameId":%q,"message":"hello"}`, gameID))
	resp, _ := ts.do(t, http.MethodPost, "/api/chat", token, chatBody, "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerateImageNoResult(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "user-1")
	body, contentType := pdfUpload(t, "rules.pdf")
	_, uploaded := ts.do(t, http.MethodPost, "/api/upload", token, body, contentType)
	gameID := uploaded["gameId"].(string)

	resp, img := ts.do(t, http.MethodPost, "/api/image", token, strings.NewReader(fmt.Sprintf(`{"gameId":%q}`, gameID)), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if img["imageUrl"] != nil {
		t.Fatalf("imageUrl = %v, want null", img["imageUrl"])
	}
}

func TestUploadCoverImageEndpoint(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "user-1")
	body, contentType := pdfUpload(t, "rules.pdf")
	_, uploaded := ts.do(t, http.MethodPost, "/api/upload", token, body, contentType)
	gameID := uploaded["gameId"].(string)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="cover.png"`)
	header.Set("Content-Type", "image/png")
	part, _ := mw.CreatePart(header)
	part.Write([]byte("png-bytes"))
	mw.Close()

	resp, img := ts.do(t, http.MethodPost, "/api/games/"+gameID+"/image", token, &buf, mw.FormDataContentType())
	if resp.StatusCode != http.StatusOK || img["success"] != true {
		t.Fatalf("upload image = %d %v", resp.StatusCode, img)
	}
	if url, _ := img["imageUrl"].(string); !strings.HasSuffix(url, "og-images/"+gameID) {
		t.Fatalf("imageUrl = %v", img["imageUrl"])
	}
}

func TestUploadRateLimited(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redisSrv.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ts := newTestServer(t, func(cfg *Config) { cfg.UploadLimiter = limiter })
	token := ts.token(t, "user-1")

	body, contentType := pdfUpload(t, "rules.pdf")
	resp, _ := ts.do(t, http.MethodPost, "/api/upload", token, body, contentType)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first upload status = %d", resp.StatusCode)
	}
	body, contentType = pdfUpload(t, "rules2.pdf")
	resp, _ = ts.do(t, http.MethodPost, "/api/upload", token, body, contentType)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second upload status = %d, want 429", resp.StatusCode)
	}
}

func TestResponsesCarryRequestID(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/healthz", "", nil, "")
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("X-Request-Id header missing")
	}
}
