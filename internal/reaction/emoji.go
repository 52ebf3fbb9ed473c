package reaction

import (
	"encoding/json"
	"errors"
	"strings"
)

const maxEmojiLen = 8

var (
	ErrEmojiEmpty   = errors.New("emoji is empty")
	ErrEmojiTooLong = errors.New("emoji too long")
)

// NormalizeEmoji unwraps a JSON-quoted value, trims whitespace, and
// enforces the length limit. Some clients double-encode the emoji field,
// so a leading and trailing quote gets one decode pass.
func NormalizeEmoji(raw string) (string, error) {
	emoji := raw
	if len(emoji) >= 2 && strings.HasPrefix(emoji, `"`) && strings.HasSuffix(emoji, `"`) {
		var decoded string
		if err := json.Unmarshal([]byte(emoji), &decoded); err == nil {
			emoji = decoded
		}
	}

	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return "", ErrEmojiEmpty
	}
	if len([]rune(emoji)) > maxEmojiLen {
		return "", ErrEmojiTooLong
	}
	return emoji, nil
}
