// Package cardhash identifies cards by their normalised content so that
// re-importing a note keeps the review history of unchanged cards.
package cardhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conorfennell/cardwise/internal/domain"
)

// Normalize joins the card's lesson and content after cleaning each part.
// Each part is trimmed, lowercased and has CRLF line endings folded to LF.
func Normalize(lesson string, card domain.Card) string {
	clean := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return strings.TrimSpace(p)
	}
	// Newline separators keep "ab"+"c" distinct from "a"+"bc".
	return strings.Join([]string{clean(lesson), clean(card.Question), clean(card.Answer), clean(card.Context)}, "\n")
}

// Hash returns the hex SHA-256 of the normalised card.
func Hash(lesson string, card domain.Card) string {
	sum := sha256.Sum256([]byte(Normalize(lesson, card)))
	return hex.EncodeToString(sum[:])
}
