package biliapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignedHeadersDeterministic(t *testing.T) {
	c := &OpenLiveClient{AccessKey: "test-key", AccessSecret: "test-secret"}
	body := []byte(`{"code":"abc","app_id":1}`)

	h1 := c.signedHeaders(body, 1700000000, "nonce-1")
	h2 := c.signedHeaders(body, 1700000000, "nonce-1")
	if h1["Authorization"] != h2["Authorization"] {
		t.Fatalf("signature not deterministic: %q vs %q", h1["Authorization"], h2["Authorization"])
	}
	if h1["Authorization"] == "" {
		t.Fatal("empty signature")
	}
	if h1["x-bili-signature-method"] != "HMAC-SHA256" {
		t.Errorf("signature method = %q", h1["x-bili-signature-method"])
	}
	if len(h1["x-bili-content-md5"]) != 32 {
		t.Errorf("content md5 looks wrong: %q", h1["x-bili-content-md5"])
	}

	// Different nonce must change the signature.
	h3 := c.signedHeaders(body, 1700000000, "nonce-2")
	if h3["Authorization"] == h1["Authorization"] {
		t.Error("signature unchanged across nonces")
	}
	// Different secret must change the signature.
	c2 := &OpenLiveClient{AccessKey: "test-key", AccessSecret: "other-secret"}
	if c2.signedHeaders(body, 1700000000, "nonce-1")["Authorization"] == h1["Authorization"] {
		t.Error("signature unchanged across secrets")
	}
}

func TestAppStart(t *testing.T) {
	var gotAuth, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/app/start" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("x-bili-accesskeyid")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"game_info": map[string]any{"game_id": "g-1"},
				"websocket_info": map[string]any{
					"auth_body": "authblob",
					"wss_link":  []string{"wss://dan.example.com/sub"},
				},
			},
		})
	}))
	defer srv.Close()

	c := &OpenLiveClient{
		AccessKey:    "k",
		AccessSecret: "s",
		BaseURL:      srv.URL,
		now:          func() time.Time { return time.Unix(1700000000, 0) },
		nonce:        func() string { return "n" },
	}
	sess, err := c.AppStart(context.Background(), 42, "identity")
	if err != nil {
		t.Fatalf("AppStart: %v", err)
	}
	if sess.GameID != "g-1" || sess.AuthBody != "authblob" || len(sess.WssLinks) != 1 {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if gotAuth == "" || gotKey != "k" {
		t.Errorf("request not signed: auth=%q key=%q", gotAuth, gotKey)
	}
}

func TestAppStartRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 4005, "message": "invalid identity code"})
	}))
	defer srv.Close()

	c := &OpenLiveClient{AccessKey: "k", AccessSecret: "s", BaseURL: srv.URL}
	if _, err := c.AppStart(context.Background(), 42, "bad"); err == nil {
		t.Fatal("expected error for rejected auth")
	}
}
