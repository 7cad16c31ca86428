package dialog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Speaker identifies who produced a dialog entry.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerWaifu Speaker = "waifu"
)

// Entry is one turn in a conversation. Immutable once written.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// History is the ordered conversation of a single user.
// Index order is conversation order.
type History []Entry

// EncodeJSON produces the lossless structured form of a history.
// DecodeJSON inverts it exactly.
func EncodeJSON(h History) ([]byte, error) {
	if h == nil {
		h = History{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dialog: %w", err)
	}
	return b, nil
}

func DecodeJSON(data []byte) (History, error) {
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode dialog: %w", err)
	}
	if h == nil {
		h = History{}
	}
	return h, nil
}

// Transcript renders a display-only text form, one entry per line,
// in conversation order. There is no decoder for this form.
func Transcript(h History) string {
	var sb strings.Builder
	for i, e := range h {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(fmt.Sprintf("%s said: %q", displayName(e.Speaker), e.Text))
	}
	return sb.String()
}

func displayName(s Speaker) string {
	switch s {
	case SpeakerWaifu:
		return "Waifu"
	default:
		return "User"
	}
}
