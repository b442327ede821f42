package danmaku

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/danmu-queue/biliapi"
)

// appHeartbeatEvery is the open-platform app keepalive interval; the
// platform ends sessions after roughly a minute of silence.
const appHeartbeatEvery = 20 * time.Second

// OpenLiveSource reads a streamer's chat through the official open-platform
// streaming API, authenticated with app credentials plus the streamer's
// identity code.
type OpenLiveSource struct {
	client       *biliapi.OpenLiveClient
	appID        int64
	identityCode string

	sess      *biliapi.AppSession
	conn      *websocket.Conn
	events    chan Event
	stop      chan struct{}
	closeOnce sync.Once
}

// NewOpenLiveSource builds a source from open-platform credentials.
func NewOpenLiveSource(accessKey, accessSecret string, appID int64, identityCode string) *OpenLiveSource {
	return &OpenLiveSource{
		client:       &biliapi.OpenLiveClient{AccessKey: accessKey, AccessSecret: accessSecret},
		appID:        appID,
		identityCode: identityCode,
	}
}

// Connect starts the app session and authenticates on the danmu websocket.
// A rejected identity code or unreachable platform surfaces here.
func (s *OpenLiveSource) Connect(ctx context.Context) error {
	sess, err := s.client.AppStart(ctx, s.appID, s.identityCode)
	if err != nil {
		return err
	}

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	var conn *websocket.Conn
	for _, link := range sess.WssLinks {
		conn, _, err = dialer.DialContext(ctx, link, nil)
		if err == nil {
			break
		}
		slog.Debug("open live dial failed", slog.String("link", link), slog.Any("err", err))
	}
	if conn == nil {
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.client.AppEnd(endCtx, s.appID, sess.GameID)
		return fmt.Errorf("dial open live websocket: %w", err)
	}

	if err := authenticate(conn, []byte(sess.AuthBody)); err != nil {
		_ = conn.Close()
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.client.AppEnd(endCtx, s.appID, sess.GameID)
		return fmt.Errorf("open live auth: %w", err)
	}

	s.sess = sess
	s.conn = conn
	s.events = make(chan Event, eventBuffer)
	s.stop = make(chan struct{})
	go s.readLoop()
	go heartbeatLoop(conn, s.stop)
	go s.appHeartbeatLoop()
	slog.Info("open live connected", slog.String("game_id", sess.GameID))
	return nil
}

// Events returns the chat stream. Closed on disconnect; not restartable.
func (s *OpenLiveSource) Events() <-chan Event { return s.events }

// Close ends the app session and tears down the websocket.
func (s *OpenLiveSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
		}
		if s.sess != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if e := s.client.AppEnd(ctx, s.appID, s.sess.GameID); e != nil {
				slog.Warn("open live app end failed", slog.Any("err", e))
			}
		}
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

func (s *OpenLiveSource) readLoop() {
	defer close(s.events)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
			default:
				slog.Warn("open live read error", slog.Any("err", err))
			}
			return
		}
		pkts, err := decodePackets(data)
		if err != nil {
			slog.Warn("open live frame decode failed", slog.Any("err", err))
			continue
		}
		for _, p := range pkts {
			if p.op != opMessage {
				continue
			}
			ev, ok := parseOpenLiveMessage(p.body)
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

// appHeartbeatLoop keeps the app session alive alongside the websocket
// heartbeat. Failures are logged but do not kill the connection; the
// platform closing the websocket is the authoritative disconnect signal.
func (s *OpenLiveSource) appHeartbeatLoop() {
	ticker := time.NewTicker(appHeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.client.AppHeartbeat(ctx, s.sess.GameID); err != nil {
				slog.Warn("open live app heartbeat failed", slog.Any("err", err))
			}
			cancel()
		}
	}
}

// parseOpenLiveMessage extracts a chat event from a LIVE_OPEN_PLATFORM_DM
// command. Gifts, superchats and guard events are ignored.
func parseOpenLiveMessage(body []byte) (Event, bool) {
	var msg struct {
		Cmd  string `json:"cmd"`
		Data struct {
			Uname  string `json:"uname"`
			Msg    string `json:"msg"`
			OpenID string `json:"open_id"`
			UID    int64  `json:"uid"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return Event{}, false
	}
	if msg.Cmd != "LIVE_OPEN_PLATFORM_DM" {
		return Event{}, false
	}
	userKey := msg.Data.OpenID
	if userKey == "" {
		userKey = msg.Data.Uname
	}
	if userKey == "" {
		return Event{}, false
	}
	return Event{Uname: msg.Data.Uname, Msg: msg.Data.Msg, UserKey: userKey, Origin: "open_live"}, true
}
