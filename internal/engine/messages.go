package engine

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// Command types.
const (
	CmdLoaded        = "loaded"
	CmdNavigate      = "navigate"
	CmdFocus         = "focus"
	CmdClose         = "close"
	CmdCheck         = "check"
	CmdRestart       = "restart"
	CmdLockdown      = "lockdown"
	CmdOverride      = "override"
	CmdResetRollover = "reset-rollover"
	CmdDiscardTime   = "discard-time"
	CmdAddSites      = "add-sites"
	CmdPassword      = "password"
	CmdDelayed       = "delayed"
	CmdBlockedInfo   = "blocked-info"
	CmdAccessCode    = "access-code"
	CmdStats         = "stats"
	CmdReload        = "reload"
	CmdSetOptions    = "set-options"
)

// Notice events pushed without a request.
const (
	NoticeQuotaExhausted = "quota-exhausted"
	NoticeLockdownEnded  = "lockdown-ended"
	NoticeOverrideEnded  = "override-ended"
	NoticeReload         = "reload"
	NoticeBlockTab       = "block-tab"
)

// SetRef is a set id that decodes from a JSON number or string. Zero means
// "all sets" where a command allows it.
type SetRef int

// UnmarshalJSON implements json.Unmarshaler.
func (s *SetRef) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil || v == "" {
		*s = 0
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || f != math.Trunc(f) || f < 0 {
		return fmt.Errorf("invalid set %v", v)
	}
	*s = SetRef(f)
	return nil
}

// Command is one request from the extension or the CLI. Fields are used
// according to Type.
type Command struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`

	Set     SetRef   `json:"set,omitempty"`
	Sets    []SetRef `json:"sets,omitempty"`
	EndTime *int64   `json:"endTime,omitempty"`
	Mins    int      `json:"mins,omitempty"`
	Cancel  bool     `json:"cancel,omitempty"`
	Secret  string   `json:"secret,omitempty"`

	// restart
	KeepStart bool `json:"keepStart,omitempty"`

	// add-sites
	Sites string `json:"sites,omitempty"`

	// tabs and unlocking
	TabID      int    `json:"tabId,omitempty"`
	URL        string `json:"url,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	Title      string `json:"title,omitempty"`
	PageText   string `json:"pageText,omitempty"`
	Focus      bool   `json:"focus,omitempty"`
	BlockedURL string `json:"blockedURL,omitempty"`
	BlockedSet SetRef `json:"blockedSet,omitempty"`

	// access-code
	Flow string `json:"flow,omitempty"`

	// set-options
	Options map[string]any `json:"options,omitempty"`
}

func (c Command) setIDs() []int {
	ids := make([]int, 0, len(c.Sets))
	for _, s := range c.Sets {
		ids = append(ids, int(s))
	}
	if len(ids) == 0 && c.Set > 0 {
		ids = append(ids, int(c.Set))
	}
	return ids
}

// Response answers a Command.
type Response struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Notice is pushed to the extension when state changes on its own.
type Notice struct {
	Type    string     `json:"type"`
	Event   string     `json:"event"`
	Set     int        `json:"set,omitempty"`
	TabID   int        `json:"tabId,omitempty"`
	EndTime int64      `json:"endTime,omitempty"`
	Info    *BlockInfo `json:"info,omitempty"`
}
