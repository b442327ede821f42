package danmaku

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/danmu-queue/biliapi"
)

// WebSource reads a room's chat through the web danmu protocol,
// authenticated with the operator's session cookie.
type WebSource struct {
	client *biliapi.WebClient
	roomID int64

	conn      *websocket.Conn
	events    chan Event
	stop      chan struct{}
	closeOnce sync.Once
}

// NewWebSource builds a source for roomID using the given session cookie.
func NewWebSource(sessdata string, roomID int64) *WebSource {
	return &WebSource{
		client: &biliapi.WebClient{Sessdata: sessdata},
		roomID: roomID,
	}
}

// Connect verifies the session cookie, resolves the room's danmu server and
// authenticates on the websocket. The returned error covers invalid
// sessions, unreachable rooms and rejected auth.
func (s *WebSource) Connect(ctx context.Context) error {
	user, err := s.client.VerifyNav(ctx)
	if err != nil {
		return err
	}
	realRoom, err := s.client.RoomInit(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("resolve room %d: %w", s.roomID, err)
	}
	token, hosts, err := s.client.DanmuInfo(ctx, realRoom)
	if err != nil {
		return fmt.Errorf("danmu info for room %d: %w", realRoom, err)
	}

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	header.Set("Origin", "https://live.bilibili.com")
	var conn *websocket.Conn
	for _, h := range hosts {
		url := fmt.Sprintf("wss://%s:%d/sub", h.Host, h.WssPort)
		conn, _, err = dialer.DialContext(ctx, url, header)
		if err == nil {
			break
		}
		slog.Debug("danmu host dial failed", slog.String("url", url), slog.Any("err", err))
	}
	if conn == nil {
		return fmt.Errorf("dial danmu server for room %d: %w", realRoom, err)
	}

	auth, err := json.Marshal(map[string]any{
		"uid":      user.UID,
		"roomid":   realRoom,
		"protover": 2,
		"platform": "web",
		"type":     2,
		"key":      token,
	})
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := authenticate(conn, auth); err != nil {
		_ = conn.Close()
		return fmt.Errorf("danmu auth for room %d: %w", realRoom, err)
	}

	s.conn = conn
	s.events = make(chan Event, eventBuffer)
	s.stop = make(chan struct{})
	go s.readLoop()
	go heartbeatLoop(conn, s.stop)
	slog.Info("web danmu connected", slog.Int64("room", realRoom), slog.String("uname", user.Uname))
	return nil
}

// Events returns the chat stream. Closed on disconnect; the source is not
// restartable afterwards.
func (s *WebSource) Events() <-chan Event { return s.events }

// Close tears down the connection. Any blocked read returns promptly.
func (s *WebSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
		}
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

func (s *WebSource) readLoop() {
	defer close(s.events)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
			default:
				slog.Warn("web danmu read error", slog.Any("err", err))
			}
			return
		}
		pkts, err := decodePackets(data)
		if err != nil {
			slog.Warn("web danmu frame decode failed", slog.Any("err", err))
			continue
		}
		for _, p := range pkts {
			if p.op != opMessage {
				continue
			}
			ev, ok := parseWebMessage(p.body)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.stop:
				return
			}
		}
	}
}

// parseWebMessage extracts a chat event from a DANMU_MSG command. Other
// commands (gifts, enter-room notices) are ignored.
func parseWebMessage(body []byte) (Event, bool) {
	var msg struct {
		Cmd  string            `json:"cmd"`
		Info []json.RawMessage `json:"info"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return Event{}, false
	}
	// The cmd sometimes carries a suffix, e.g. "DANMU_MSG:4:0:2:2:2:0".
	if !strings.HasPrefix(msg.Cmd, "DANMU_MSG") || len(msg.Info) < 3 {
		return Event{}, false
	}
	var text string
	if err := json.Unmarshal(msg.Info[1], &text); err != nil {
		return Event{}, false
	}
	var sender []json.RawMessage
	if err := json.Unmarshal(msg.Info[2], &sender); err != nil || len(sender) < 2 {
		return Event{}, false
	}
	var uid int64
	var uname string
	_ = json.Unmarshal(sender[0], &uid)
	_ = json.Unmarshal(sender[1], &uname)

	userKey := uname
	if uid > 0 {
		userKey = strconv.FormatInt(uid, 10)
	}
	if userKey == "" {
		return Event{}, false
	}
	return Event{Uname: uname, Msg: text, UserKey: userKey, Origin: "web"}, true
}

const (
	heartbeatEvery = 30 * time.Second
	// Server heartbeat replies arrive every ~30s; a read idle longer than
	// this means the connection is dead.
	readTimeout = 70 * time.Second
)

// authenticate sends the auth frame and waits for the server's auth reply.
func authenticate(conn *websocket.Conn, authBody []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, encodePacket(verPlain, opAuth, authBody)); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	pkts, err := decodePackets(data)
	if err != nil {
		return err
	}
	for _, p := range pkts {
		if p.op == opAuthReply {
			var reply struct {
				Code int `json:"code"`
			}
			if len(p.body) > 0 && json.Unmarshal(p.body, &reply) == nil && reply.Code != 0 {
				return fmt.Errorf("auth rejected with code %d", reply.Code)
			}
			return nil
		}
	}
	return fmt.Errorf("no auth reply received")
}

// heartbeatLoop keeps the websocket alive until stop closes or a write
// fails (the read loop notices the dead connection either way).
func heartbeatLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, encodePacket(verPlain, opHeartbeat, nil)); err != nil {
				return
			}
		}
	}
}
