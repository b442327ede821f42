package biliapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

const webUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0 Safari/537.36"

// WebClient issues web API requests authenticated with a SESSDATA cookie.
type WebClient struct {
	Sessdata   string
	APIBase    string // override for tests; default https://api.bilibili.com
	LiveBase   string // override for tests; default https://api.live.bilibili.com
	HTTPClient *http.Client
}

func (c *WebClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *WebClient) apiBase() string {
	if c.APIBase != "" {
		return c.APIBase
	}
	return "https://api.bilibili.com"
}

func (c *WebClient) liveBase() string {
	if c.LiveBase != "" {
		return c.LiveBase
	}
	return "https://api.live.bilibili.com"
}

func (c *WebClient) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Referer", "https://www.bilibili.com/")
	if c.Sessdata != "" {
		req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: c.Sessdata})
	}
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
		return fmt.Errorf("GET %s: HTTP %d", url, resp.StatusCode)
	}

	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("GET %s: decode: %w", url, err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("GET %s: code %d: %s", url, envelope.Code, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("GET %s: decode data: %w", url, err)
		}
	}
	return nil
}

// NavUser is the logged-in account behind a session cookie.
type NavUser struct {
	UID   int64  `json:"mid"`
	Uname string `json:"uname"`
}

// VerifyNav checks that the session cookie is valid and returns the account
// it belongs to. An expired or missing cookie yields a non-zero API code.
func (c *WebClient) VerifyNav(ctx context.Context) (*NavUser, error) {
	var user NavUser
	if err := c.get(ctx, c.apiBase()+"/x/web-interface/nav", &user); err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	return &user, nil
}

// RoomInit resolves a (possibly short) room id to the real room id.
func (c *WebClient) RoomInit(ctx context.Context, roomID int64) (int64, error) {
	var data struct {
		RoomID int64 `json:"room_id"`
	}
	url := c.liveBase() + "/room/v1/Room/room_init?id=" + strconv.FormatInt(roomID, 10)
	if err := c.get(ctx, url, &data); err != nil {
		return 0, err
	}
	if data.RoomID <= 0 {
		return 0, fmt.Errorf("room %d: no real room id returned", roomID)
	}
	return data.RoomID, nil
}

// DanmuHost is one danmu server endpoint.
type DanmuHost struct {
	Host    string `json:"host"`
	WssPort int    `json:"wss_port"`
}

// DanmuInfo returns the danmu server list and the auth token for a room.
// The token is tied to the session cookie used to fetch it.
func (c *WebClient) DanmuInfo(ctx context.Context, realRoomID int64) (string, []DanmuHost, error) {
	var data struct {
		Token    string      `json:"token"`
		HostList []DanmuHost `json:"host_list"`
	}
	url := c.liveBase() + "/xlive/web-room/v1/index/getDanmuInfo?id=" + strconv.FormatInt(realRoomID, 10) + "&type=0"
	if err := c.get(ctx, url, &data); err != nil {
		return "", nil, err
	}
	if len(data.HostList) == 0 {
		return "", nil, fmt.Errorf("room %d: empty danmu host list", realRoomID)
	}
	return data.Token, data.HostList, nil
}
