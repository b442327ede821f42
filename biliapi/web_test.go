package biliapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifyNav(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/x/web-interface/nav" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		cookie, err := r.Cookie("SESSDATA")
		if err != nil || cookie.Value != "valid-cookie" {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": -101, "message": "not logged in"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"mid": 12345, "uname": "streamer"},
		})
	}))
	defer srv.Close()

	c := &WebClient{Sessdata: "valid-cookie", APIBase: srv.URL}
	user, err := c.VerifyNav(context.Background())
	if err != nil {
		t.Fatalf("VerifyNav: %v", err)
	}
	if user.UID != 12345 || user.Uname != "streamer" {
		t.Fatalf("user = %+v", user)
	}

	bad := &WebClient{Sessdata: "expired", APIBase: srv.URL}
	if _, err := bad.VerifyNav(context.Background()); err == nil {
		t.Fatal("expected error for invalid session")
	}
}

func TestRoomInitAndDanmuInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/room/v1/Room/room_init":
			if r.URL.Query().Get("id") != "100" {
				t.Errorf("room_init id = %s", r.URL.Query().Get("id"))
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 0,
				"data": map[string]any{"room_id": 7777},
			})
		case "/xlive/web-room/v1/index/getDanmuInfo":
			if r.URL.Query().Get("id") != "7777" {
				t.Errorf("getDanmuInfo id = %s", r.URL.Query().Get("id"))
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 0,
				"data": map[string]any{
					"token": "tok",
					"host_list": []map[string]any{
						{"host": "dan.example.com", "wss_port": 443},
					},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := &WebClient{Sessdata: "cookie", LiveBase: srv.URL}
	real, err := c.RoomInit(context.Background(), 100)
	if err != nil {
		t.Fatalf("RoomInit: %v", err)
	}
	if real != 7777 {
		t.Fatalf("real room id = %d, want 7777", real)
	}

	token, hosts, err := c.DanmuInfo(context.Background(), real)
	if err != nil {
		t.Fatalf("DanmuInfo: %v", err)
	}
	if token != "tok" || len(hosts) != 1 || hosts[0].Host != "dan.example.com" {
		t.Fatalf("token = %q hosts = %+v", token, hosts)
	}
}
