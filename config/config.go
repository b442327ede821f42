// Package config loads the YAML config file and environment variables into a
// typed Config used across the service. Environment variables override file
// values so the binary can run in a container without touching the file.
// Credentials are only validated when ingestion starts; see SelectMode.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when CONFIG_PATH is not set.
const DefaultConfigPath = "config.yaml"

// Mode identifies which chat backend a session uses.
type Mode string

const (
	// ModeOpenLive is the official open-platform streaming API.
	ModeOpenLive Mode = "open_live"
	// ModeWeb is the web chat room reached with a logged-in session cookie.
	ModeWeb Mode = "web"
)

// MatchMode controls how the join keyword is compared against messages.
type MatchMode string

const (
	// MatchContains admits a message that contains the keyword anywhere.
	MatchContains MatchMode = "contains"
	// MatchExact admits only a message that equals the keyword after trimming.
	MatchExact MatchMode = "exact"
)

// ErrNoBackend means neither backend has usable credentials.
var ErrNoBackend = errors.New("missing danmaku config: provide bilibili.open_live.* or bilibili.web.sessdata")

// ErrWebRoomRequired means a web session cookie is configured without a room.
var ErrWebRoomRequired = errors.New("bilibili.web.room_id is required when using a session cookie (web mode)")

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type QueueConfig struct {
	Keyword   string    `yaml:"keyword"`
	MaxQueue  int       `yaml:"max_queue"` // total: current + waiting
	MatchMode MatchMode `yaml:"match_mode"`
}

type UIConfig struct {
	OverlayTitle    string `yaml:"overlay_title"`
	CurrentTitle    string `yaml:"current_title"`
	QueueTitle      string `yaml:"queue_title"`
	MarkedColor     string `yaml:"marked_color"`
	OverlayShowMark bool   `yaml:"overlay_show_mark"`
}

type StyleConfig struct {
	CustomCSSPath string `yaml:"custom_css_path"`
}

type RuntimeConfig struct {
	TestEnabled bool `yaml:"test_enabled"`
	Autostart   bool `yaml:"autostart"`
}

type OpenLiveConfig struct {
	AccessKey    string `yaml:"access_key"`
	AccessSecret string `yaml:"access_secret"`
	AppID        int64  `yaml:"app_id"`
	IdentityCode string `yaml:"identity_code"`
}

type WebConfig struct {
	Sessdata string `yaml:"sessdata"`
	RoomID   int64  `yaml:"room_id"`
}

type BilibiliConfig struct {
	OpenLive OpenLiveConfig `yaml:"open_live"`
	Web      WebConfig      `yaml:"web"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Queue    QueueConfig    `yaml:"queue"`
	UI       UIConfig       `yaml:"ui"`
	Style    StyleConfig    `yaml:"style"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Bilibili BilibiliConfig `yaml:"bilibili"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 10000},
		Queue:  QueueConfig{Keyword: "排队", MaxQueue: 10, MatchMode: MatchContains},
		UI: UIConfig{
			OverlayTitle:    "排队",
			CurrentTitle:    "当前",
			QueueTitle:      "队列",
			MarkedColor:     "#ff5a5a",
			OverlayShowMark: true,
		},
		Style: StyleConfig{CustomCSSPath: "./custom.css"},
	}
}

// Load reads the YAML file named by CONFIG_PATH (if it exists), then applies
// environment overrides. It doesn't fail when credentials are missing; use
// SelectMode when you need a connectable backend.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultConfigPath
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.Queue.MaxQueue <= 0 {
		return nil, fmt.Errorf("queue.max_queue must be positive, got %d", cfg.Queue.MaxQueue)
	}
	if strings.TrimSpace(cfg.Queue.Keyword) == "" {
		return nil, fmt.Errorf("queue.keyword must not be empty")
	}
	switch cfg.Queue.MatchMode {
	case MatchContains, MatchExact:
	case "":
		cfg.Queue.MatchMode = MatchContains
	default:
		return nil, fmt.Errorf("queue.match_mode must be contains or exact, got %q", cfg.Queue.MatchMode)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setInt64 := func(dst *int64, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}

	setStr(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Queue.Keyword, "QUEUE_KEYWORD")
	setInt(&cfg.Queue.MaxQueue, "QUEUE_MAX")
	if v := os.Getenv("QUEUE_MATCH_MODE"); v != "" {
		cfg.Queue.MatchMode = MatchMode(v)
	}
	setStr(&cfg.Style.CustomCSSPath, "CUSTOM_CSS_PATH")
	setBool(&cfg.Runtime.TestEnabled, "TEST_ENABLED")
	setBool(&cfg.Runtime.Autostart, "AUTOSTART")
	setStr(&cfg.Bilibili.OpenLive.AccessKey, "BILI_OPEN_ACCESS_KEY")
	setStr(&cfg.Bilibili.OpenLive.AccessSecret, "BILI_OPEN_ACCESS_SECRET")
	setInt64(&cfg.Bilibili.OpenLive.AppID, "BILI_OPEN_APP_ID")
	setStr(&cfg.Bilibili.OpenLive.IdentityCode, "BILI_OPEN_IDENTITY_CODE")
	setStr(&cfg.Bilibili.Web.Sessdata, "BILI_WEB_SESSDATA")
	setInt64(&cfg.Bilibili.Web.RoomID, "BILI_WEB_ROOM_ID")
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// OverlayURL returns the browser-source URL for capture software.
func (c *Config) OverlayURL() string {
	return fmt.Sprintf("http://%s:%d/overlay", c.Server.Host, c.Server.Port)
}

// SelectMode resolves which backend a start attempt uses. Open-platform
// credentials take priority over a web session cookie; with neither, the
// returned error explains what is missing. Resolution happens once per start
// and is never re-evaluated mid-session.
func (c *Config) SelectMode() (Mode, error) {
	ol := c.Bilibili.OpenLive
	if strings.TrimSpace(ol.AccessKey) != "" &&
		strings.TrimSpace(ol.AccessSecret) != "" &&
		ol.AppID > 0 &&
		strings.TrimSpace(ol.IdentityCode) != "" {
		return ModeOpenLive, nil
	}
	if strings.TrimSpace(c.Bilibili.Web.Sessdata) != "" {
		if c.Bilibili.Web.RoomID <= 0 {
			return "", ErrWebRoomRequired
		}
		return ModeWeb, nil
	}
	return "", ErrNoBackend
}
