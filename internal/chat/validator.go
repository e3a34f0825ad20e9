package chat

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // default byte limit per chat line
	MaxTextChars    = 2000 // max character count
)

// ValidateMessage checks that a chat line fits within maxBytes (MaxMessageBytes
// when maxBytes <= 0) and is valid UTF-8. Empty text is allowed.
func ValidateMessage(text string, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = MaxMessageBytes
	}
	if len(text) > maxBytes {
		return fmt.Errorf("message exceeds %d byte limit", maxBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	return nil
}
