package control

import (
	"strings"

	"github.com/onnwee/danmu-queue/config"
	"github.com/onnwee/danmu-queue/danmaku"
)

// Decision says whether a chat message should join the queue and under
// which identity. When Join is false, Reason holds a short machine-readable
// explanation.
type Decision struct {
	Join    bool
	UserKey string
	Uname   string
	Reason  string
}

// Classify applies the keyword match and identity normalization to a chat
// event. It is pure: no queue state is consulted, so duplicate and
// capacity checks happen at join time.
func Classify(ev danmaku.Event, keyword string, mode config.MatchMode) Decision {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return Decision{Reason: "no_keyword"}
	}
	msg := strings.TrimSpace(ev.Msg)
	matched := false
	switch mode {
	case config.MatchExact:
		matched = msg == keyword
	default:
		matched = strings.Contains(msg, keyword)
	}
	if !matched {
		return Decision{Reason: "no_match"}
	}
	key := strings.TrimSpace(ev.UserKey)
	if key == "" {
		key = strings.TrimSpace(ev.Uname)
	}
	if key == "" {
		return Decision{Reason: "no_user_key"}
	}
	uname := strings.TrimSpace(ev.Uname)
	if uname == "" {
		uname = key
	}
	return Decision{Join: true, UserKey: key, Uname: uname}
}
