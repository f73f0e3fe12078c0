package policy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the final outcome for a URL in one block set.
type Action string

const (
	ActionAllow Action = "ALLOW"
	ActionBlock Action = "BLOCK"
)

// UnmarshalJSON implements json.Unmarshaler to normalize action to uppercase.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Action(strings.ToUpper(s))
	switch normalized {
	case ActionAllow, ActionBlock:
		*a = normalized
		return nil
	default:
		return fmt.Errorf("invalid action: %s (must be ALLOW or BLOCK)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// Verdict is what one provider says about a set.
type Verdict int

const (
	// Pass defers to the next provider.
	Pass Verdict = iota
	Block
	Allow
)

func (v Verdict) String() string {
	switch v {
	case Block:
		return "block"
	case Allow:
		return "allow"
	default:
		return "pass"
	}
}

// Decision is the per-set result of evaluating a page.
type Decision struct {
	SetID     int    `json:"set"`
	SetName   string `json:"setName"`
	Action    Action `json:"action"`
	Provider  string `json:"provider"`
	Reason    string `json:"reason"`
	Keyword   string `json:"keyword,omitempty"`
	UnblockAt int64  `json:"unblockTime,omitempty"`
}

// Blocked reports whether the decision blocks the page.
func (d Decision) Blocked() bool {
	return d.Action == ActionBlock
}
