package control

import (
	"testing"

	"github.com/onnwee/danmu-queue/config"
	"github.com/onnwee/danmu-queue/danmaku"
)

func TestClassifyContains(t *testing.T) {
	tests := []struct {
		name    string
		ev      danmaku.Event
		keyword string
		want    Decision
	}{
		{
			name:    "exact keyword",
			ev:      danmaku.Event{Uname: "alice", Msg: "排队", UserKey: "uid:1"},
			keyword: "排队",
			want:    Decision{Join: true, UserKey: "uid:1", Uname: "alice"},
		},
		{
			name:    "keyword inside longer message",
			ev:      danmaku.Event{Uname: "bob", Msg: "我要排队啦", UserKey: "uid:2"},
			keyword: "排队",
			want:    Decision{Join: true, UserKey: "uid:2", Uname: "bob"},
		},
		{
			name:    "surrounding whitespace on message",
			ev:      danmaku.Event{Uname: "carol", Msg: "  排队  ", UserKey: "uid:3"},
			keyword: "排队",
			want:    Decision{Join: true, UserKey: "uid:3", Uname: "carol"},
		},
		{
			name:    "no match",
			ev:      danmaku.Event{Uname: "dave", Msg: "晚上好", UserKey: "uid:4"},
			keyword: "排队",
			want:    Decision{Reason: "no_match"},
		},
		{
			name:    "blank keyword matches nothing",
			ev:      danmaku.Event{Uname: "eve", Msg: "排队", UserKey: "uid:5"},
			keyword: "   ",
			want:    Decision{Reason: "no_keyword"},
		},
		{
			name:    "user key falls back to uname",
			ev:      danmaku.Event{Uname: "frank", Msg: "排队"},
			keyword: "排队",
			want:    Decision{Join: true, UserKey: "frank", Uname: "frank"},
		},
		{
			name:    "no identity at all",
			ev:      danmaku.Event{Msg: "排队"},
			keyword: "排队",
			want:    Decision{Reason: "no_user_key"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.ev, tt.keyword, config.MatchContains)
			if got != tt.want {
				t.Errorf("Classify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassifyExact(t *testing.T) {
	ev := danmaku.Event{Uname: "alice", Msg: "我要排队", UserKey: "uid:1"}
	if d := Classify(ev, "排队", config.MatchExact); d.Join {
		t.Errorf("exact mode matched substring message: %+v", d)
	}
	ev.Msg = " 排队 "
	d := Classify(ev, "排队", config.MatchExact)
	if !d.Join {
		t.Errorf("exact mode rejected trimmed keyword message: %+v", d)
	}
}

func TestClassifyUnameFallsBackToKey(t *testing.T) {
	ev := danmaku.Event{Msg: "排队", UserKey: "uid:9"}
	d := Classify(ev, "排队", config.MatchContains)
	if !d.Join || d.Uname != "uid:9" {
		t.Errorf("expected uname fallback to user key, got %+v", d)
	}
}
