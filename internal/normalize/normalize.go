// Package normalize turns raw LLM response payloads into dialogue the game
// client can display. It never fails outward: every malformed, truncated, or
// degenerate input resolves to a deterministic in-character fallback.
package normalize

import (
	"encoding/json"
	"strings"
)

const (
	// OptionCount is the fixed number of player-selectable lines returned in
	// options mode.
	OptionCount = 4

	// FallbackUtterance is returned whenever a single-utterance request
	// produces no usable content.
	FallbackUtterance = "Sorry, I'm having trouble understanding right now."

	// minEntryLen rejects degenerate fragments; an utterance or option must
	// be longer than 2 characters.
	minEntryLen = 3

	optionDelimiter = "|"
)

// FallbackOptions is the pool used to backfill an OptionSet when fewer than
// OptionCount usable entries survive normalization.
var FallbackOptions = [OptionCount]string{
	"Tell me more about yourself.",
	"What do you think of this place?",
	"Can you help me with something?",
	"I should get going.",
}

// payload is the minimal schema accepted from the upstream service: either a
// chat-completions body or a bare object carrying a content field.
type payload struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Content string `json:"content"`
}

// ExtractContent pulls the dialogue content out of a raw response body.
// It returns false when the body is not JSON or carries no content field.
func ExtractContent(raw []byte) (string, bool) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", false
	}
	if len(p.Choices) > 0 {
		return p.Choices[0].Message.Content, true
	}
	if p.Content != "" {
		return p.Content, true
	}
	return "", false
}

// Unescape materializes the common JSON escape sequences and drops orphan
// backslashes that are not part of a recognized escape.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			break // trailing orphan
		}
		switch s[i+1] {
		case '"', '\\', '/':
			b.WriteByte(s[i+1])
			i++
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		default:
			// orphan backslash, drop it and keep the next byte as-is
		}
	}
	return b.String()
}

// Escape is the inverse of Unescape for the sequences it emits.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Truncate caps s at maxLen runes, replacing the tail with an ellipsis
// marker when it is over the cap.
func Truncate(s string, maxLen int) string {
	if maxLen <= minEntryLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// Utterance cleans content into a single displayable line capped at maxLen.
// Degenerate results resolve to FallbackUtterance.
func Utterance(content string, maxLen int) string {
	s := strings.TrimSpace(Unescape(content))
	s = Truncate(s, maxLen)
	if degenerate(s) {
		return FallbackUtterance
	}
	return s
}

// Options splits content on the pipe delimiter into exactly OptionCount
// entries, each capped at maxLen, backfilling from FallbackOptions without
// duplicating entries already present.
func Options(content string, maxLen int) []string {
	opts := make([]string, 0, OptionCount)
	for _, part := range strings.Split(Unescape(content), optionDelimiter) {
		if len(opts) == OptionCount {
			break
		}
		s := strings.TrimSpace(part)
		if degenerate(s) || strings.HasPrefix(s, `\`) {
			continue
		}
		opts = append(opts, Truncate(s, maxLen))
	}
	for _, fb := range FallbackOptions {
		if len(opts) == OptionCount {
			break
		}
		if !contains(opts, fb) {
			opts = append(opts, fb)
		}
	}
	return opts
}

func degenerate(s string) bool {
	return len([]rune(s)) < minEntryLen || s == `\`
}

func contains(opts []string, s string) bool {
	for _, o := range opts {
		if o == s {
			return true
		}
	}
	return false
}
