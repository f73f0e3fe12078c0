package engine

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/kblock/internal/options"
	"github.com/goodtune/kblock/internal/policy"
)

const (
	displayURLMax  = 60
	displayURLKeep = 57
)

// BlockInfo is what the blocked page displays.
type BlockInfo struct {
	BlockedURL     string `json:"blockedURL"`
	DisplayURL     string `json:"displayURL"`
	BlockedSet     int    `json:"blockedSet"`
	BlockedSetName string `json:"blockedSetName"`
	Page           string `json:"page"`
	Provider       string `json:"provider"`
	Reason         string `json:"reason"`
	Theme          string `json:"theme,omitempty"`
	CustomStyle    string `json:"customStyle,omitempty"`
	KeywordMatch   string `json:"keywordMatch,omitempty"`
	CustomMsg      string `json:"customMsg,omitempty"`
	UnblockAt      int64  `json:"unblockAt,omitempty"`
	UnblockTime    string `json:"unblockTime,omitempty"`
	DelaySecs      int    `json:"delaySecs"`
	DelayCancel    bool   `json:"delayCancel"`
	ReloadSecs     int    `json:"reloadSecs"`
	DisableLink    bool   `json:"disableLink"`
	Password       *int32 `json:"password,omitempty"`
}

func (e *Engine) blockInfo(ec policy.EngineContext, blockedURL string, d policy.Decision) *BlockInfo {
	set := e.opts.Set(d.SetID)
	if set == nil {
		return nil
	}
	info := &BlockInfo{
		BlockedURL:     blockedURL,
		DisplayURL:     truncateURL(blockedURL),
		BlockedSet:     set.ID,
		BlockedSetName: set.DisplayName(),
		Page:           blockPage(set, blockedURL),
		Provider:       d.Provider,
		Reason:         d.Reason,
		Theme:          e.opts.Theme,
		CustomStyle:    e.opts.CustomStyle,
		CustomMsg:      set.CustomMsg,
		DelaySecs:      set.DelaySecs,
		DelayCancel:    set.DelayCancel,
		ReloadSecs:     set.ReloadSecs,
		DisableLink:    e.opts.DisableLink,
	}
	if set.ShowKeyword {
		info.KeywordMatch = d.Keyword
	}
	if d.UnblockAt > 0 {
		info.UnblockAt = d.UnblockAt
		info.UnblockTime = e.opts.FormatClock(time.Unix(d.UnblockAt, 0).In(ec.Location))
	}
	if set.BlockURL == options.BlockPagePassword && e.opts.HasPassword {
		hash := e.opts.PasswordHash
		info.Password = &hash
	}
	return info
}

// blockPage resolves the page shown for a block. Custom pages may embed
// $U (the blocked URL) and $S (the set number).
func blockPage(set *options.BlockSet, blockedURL string) string {
	switch set.BlockURL {
	case options.BlockPageDefault, options.BlockPageDelayed, options.BlockPagePassword:
		return set.BlockURL
	}
	r := strings.NewReplacer("$U", url.QueryEscape(blockedURL), "$S", strconv.Itoa(set.ID))
	return r.Replace(set.BlockURL)
}

func truncateURL(u string) string {
	runes := []rune(u)
	if len(runes) > displayURLMax {
		return string(runes[:displayURLKeep]) + "..."
	}
	return u
}
