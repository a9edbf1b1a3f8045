// Package sheets implements the spreadsheet-backed record store holding
// the games and conversations tables.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultBaseURL  = "https://sheets.googleapis.com/v4"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	sheetsScope     = "https://www.googleapis.com/auth/spreadsheets"

	tokenExpiryMargin = time.Minute
)

// Credentials is the service-account credential blob
// (GOOGLE_SERVICE_ACCOUNT_KEY).
type Credentials struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

type tokenSource interface {
	Token(ctx context.Context) (string, error)
}

// serviceAccountTokenSource exchanges a signed service-account assertion
// for a short-lived access token and caches it until near expiry.
type serviceAccountTokenSource struct {
	clientEmail string
	signingKey  any
	tokenURL    string
	httpClient  *http.Client

	mu     sync.Mutex
	cached string
	expiry time.Time
}

func newServiceAccountTokenSource(creds Credentials, httpClient *http.Client) (*serviceAccountTokenSource, error) {
	if strings.TrimSpace(creds.ClientEmail) == "" || strings.TrimSpace(creds.PrivateKey) == "" {
		return nil, errors.New("sheets: service account credentials require client_email and private_key")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(creds.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	tokenURL := strings.TrimSpace(creds.TokenURI)
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &serviceAccountTokenSource{
		clientEmail: creds.ClientEmail,
		signingKey:  key,
		tokenURL:    tokenURL,
		httpClient:  httpClient,
	}, nil
}

func (s *serviceAccountTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" && time.Now().Before(s.expiry.Add(-tokenExpiryMargin)) {
		return s.cached, nil
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss":   s.clientEmail,
		"scope": sheetsScope,
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("token exchange: %s", resp.Status)
	}
	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("token exchange returned no access token")
	}
	s.cached = tokenResp.AccessToken
	s.expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return s.cached, nil
}

// staticTokenSource is used by tests and pre-authorized environments.
type staticTokenSource string

func (s staticTokenSource) Token(context.Context) (string, error) { return string(s), nil }

// Client is a minimal Google Sheets values-API client.
type Client struct {
	spreadsheetID string
	baseURL       string
	httpClient    *http.Client
	tokens        tokenSource
}

// NewClient builds a client from the spreadsheet id and the raw
// service-account credential JSON. Both settings are required and their
// absence fails fast.
func NewClient(spreadsheetID, credentialJSON string) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("sheets: spreadsheet id required (set GOOGLE_SHEETS_ID)")
	}
	if strings.TrimSpace(credentialJSON) == "" {
		return nil, errors.New("sheets: service account credentials required (set GOOGLE_SERVICE_ACCOUNT_KEY)")
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(credentialJSON), &creds); err != nil {
		return nil, fmt.Errorf("sheets: parse GOOGLE_SERVICE_ACCOUNT_KEY: %w", err)
	}
	httpClient := &http.Client{Timeout: 15 * time.Second}
	tokens, err := newServiceAccountTokenSource(creds, httpClient)
	if err != nil {
		return nil, err
	}
	return &Client{
		spreadsheetID: spreadsheetID,
		baseURL:       defaultBaseURL,
		httpClient:    httpClient,
		tokens:        tokens,
	}, nil
}

type valueRange struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}

// getValues reads all rows of an A1 range.
func (c *Client) getValues(ctx context.Context, rangeA1 string) ([][]string, error) {
	var resp valueRange
	path := fmt.Sprintf("/spreadsheets/%s/values/%s", c.spreadsheetID, url.PathEscape(rangeA1))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// appendRow appends one row at the end of a table range.
func (c *Client) appendRow(ctx context.Context, rangeA1 string, row []string) error {
	path := fmt.Sprintf("/spreadsheets/%s/values/%s:append?valueInputOption=RAW", c.spreadsheetID, url.PathEscape(rangeA1))
	payload := map[string]any{"values": [][]string{row}}
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

// batchUpdate writes individual cells; used for partial row updates.
func (c *Client) batchUpdate(ctx context.Context, data []valueRange) error {
	if len(data) == 0 {
		return nil
	}
	path := fmt.Sprintf("/spreadsheets/%s/values:batchUpdate", c.spreadsheetID)
	payload := map[string]any{
		"valueInputOption": "RAW",
		"data":             data,
	}
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

// clearRange blanks the cells of an A1 range. Row removal is modeled as
// clearing; scans skip rows with an empty id cell.
func (c *Client) clearRange(ctx context.Context, rangeA1 string) error {
	path := fmt.Sprintf("/spreadsheets/%s/values/%s:clear", c.spreadsheetID, url.PathEscape(rangeA1))
	return c.do(ctx, http.MethodPost, path, map[string]any{}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sheets request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("sheets api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("sheets api error: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
