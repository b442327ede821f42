// Package biliapi contains minimal helpers to interact with bilibili HTTP
// APIs: the signed open-platform (open live) app lifecycle, and the web
// endpoints used to validate a session cookie and locate a room's danmu
// server.
package biliapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // content-md5 is required by the open-platform signature scheme
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultOpenLiveBase = "https://live-open.biliapi.com"

// OpenLiveClient signs and issues open-platform app requests.
type OpenLiveClient struct {
	AccessKey    string
	AccessSecret string
	BaseURL      string // override for tests
	HTTPClient   *http.Client

	// now and nonce are overridable for deterministic signatures in tests.
	now   func() time.Time
	nonce func() string
}

func (c *OpenLiveClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *OpenLiveClient) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultOpenLiveBase
}

// AppSession is the result of a successful app start: the heartbeat handle
// and the websocket connection parameters.
type AppSession struct {
	GameID   string
	AuthBody string
	WssLinks []string
}

// signedHeaders builds the x-bili-* headers plus the Authorization signature
// for a request body, per the open-platform HMAC-SHA256 scheme: the signed
// string is the sorted "header:value" lines joined by newlines.
func (c *OpenLiveClient) signedHeaders(body []byte, ts int64, nonce string) map[string]string {
	sum := md5.Sum(body) //nolint:gosec
	headers := map[string]string{
		"x-bili-accesskeyid":       c.AccessKey,
		"x-bili-content-md5":       hex.EncodeToString(sum[:]),
		"x-bili-signature-method":  "HMAC-SHA256",
		"x-bili-signature-nonce":   nonce,
		"x-bili-signature-version": "1.0",
		"x-bili-timestamp":         fmt.Sprintf("%d", ts),
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+":"+headers[k])
	}

	mac := hmac.New(sha256.New, []byte(c.AccessSecret))
	mac.Write([]byte(strings.Join(lines, "\n")))
	headers["Authorization"] = hex.EncodeToString(mac.Sum(nil))
	return headers
}

func (c *OpenLiveClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	ts := time.Now().Unix()
	if c.now != nil {
		ts = c.now().Unix()
	}
	n := uuid.New().String()
	if c.nonce != nil {
		n = c.nonce()
	}
	for k, v := range c.signedHeaders(body, ts, n) {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("open platform %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("open platform %s: decode: %w", path, err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("open platform %s: code %d: %s", path, envelope.Code, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("open platform %s: decode data: %w", path, err)
		}
	}
	return nil
}

// AppStart opens an app session bound to the streamer's identity code and
// returns the websocket parameters for the danmu stream.
func (c *OpenLiveClient) AppStart(ctx context.Context, appID int64, identityCode string) (*AppSession, error) {
	var data struct {
		GameInfo struct {
			GameID string `json:"game_id"`
		} `json:"game_info"`
		WebsocketInfo struct {
			AuthBody string   `json:"auth_body"`
			WssLink  []string `json:"wss_link"`
		} `json:"websocket_info"`
	}
	err := c.post(ctx, "/v2/app/start", map[string]any{"code": identityCode, "app_id": appID}, &data)
	if err != nil {
		return nil, err
	}
	if len(data.WebsocketInfo.WssLink) == 0 {
		return nil, fmt.Errorf("open platform app start: no websocket links returned")
	}
	return &AppSession{
		GameID:   data.GameInfo.GameID,
		AuthBody: data.WebsocketInfo.AuthBody,
		WssLinks: data.WebsocketInfo.WssLink,
	}, nil
}

// AppHeartbeat keeps the app session alive; the platform closes sessions
// that miss heartbeats for about a minute.
func (c *OpenLiveClient) AppHeartbeat(ctx context.Context, gameID string) error {
	return c.post(ctx, "/v2/app/heartbeat", map[string]any{"game_id": gameID}, nil)
}

// AppEnd closes the app session.
func (c *OpenLiveClient) AppEnd(ctx context.Context, appID int64, gameID string) error {
	return c.post(ctx, "/v2/app/end", map[string]any{"app_id": appID, "game_id": gameID}, nil)
}
