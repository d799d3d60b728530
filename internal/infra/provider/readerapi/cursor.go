package readerapi

import (
	"encoding/json"
	"fmt"
)

// Pull phases, in pass order. The empty phase starts a new pass.
const (
	phaseStart   = ""
	phaseItems   = "items"
	phaseUnread  = "unread"
	phaseStarred = "starred"
)

// cursor is the serialized position inside a pull pass.
type cursor struct {
	Phase        string `json:"phase,omitempty"`
	Continuation string `json:"c,omitempty"`
	// Since is the unix time items are requested from.
	Since int64 `json:"since,omitempty"`
	// PassStart becomes Since of the next pass.
	PassStart int64 `json:"pass_start,omitempty"`
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	if s == "" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return cursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	switch c.Phase {
	case phaseStart, phaseItems, phaseUnread, phaseStarred:
		return c, nil
	default:
		return cursor{}, fmt.Errorf("decode cursor: unknown phase %q", c.Phase)
	}
}

func (c cursor) encode() string {
	b, err := json.Marshal(c)
	if err != nil {
		// cursor has only string and integer fields
		panic(err)
	}
	return string(b)
}
