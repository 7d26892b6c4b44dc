// Package chunker slices document bodies into fixed-size retrieval units and
// derives their content fingerprints and lexical representations.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const DefaultMaxChars = 1500

// Split cuts text into consecutive windows of at most maxChars characters,
// in order, without overlap. Empty or whitespace-only input yields nil.
func Split(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	out := make([]string, 0, (len(runes)+maxChars-1)/maxChars)
	for i := 0; i < len(runes); i += maxChars {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// SHA256Hex returns the hex content fingerprint of text's UTF-8 bytes.
// Used for chunk identity and change detection, not for security.
func SHA256Hex(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Lexeme normalizes text for the full-text index: lowercase, punctuation
// folded to spaces, whitespace collapsed.
func Lexeme(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
