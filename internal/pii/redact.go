package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/reflexlayer/reflex/pkg/reflex"
)

// Strategy names a redaction transform.
type Strategy string

const (
	StrategyMask    Strategy = "Mask"    // asterisks of original length
	StrategyHash    Strategy = "Hash"    // first 16 hex chars of SHA-256
	StrategyPartial Strategy = "Partial" // keep last N characters
	StrategyRemove  Strategy = "Remove"  // delete entirely
	StrategyToken   Strategy = "Token"   // "<KIND-TOKEN-index>"
)

// Redact applies strategy to every match in text, processing in
// reverse-offset order so earlier offsets remain valid for matches not yet
// processed. keepLastN is only consulted for StrategyPartial.
func Redact(text string, matches []reflex.PIIMatch, strategy Strategy, keepLastN int) string {
	if len(matches) == 0 {
		return text
	}

	ordered := make([]reflex.PIIMatch, len(matches))
	copy(ordered, matches)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Start > ordered[i].Start {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	result := text
	for idx, m := range ordered {
		tokenIndex := len(ordered) - idx
		replacement := redactOne(m, strategy, keepLastN, tokenIndex)
		result = result[:m.Start] + replacement + result[m.End:]
	}
	return result
}

func redactOne(m reflex.PIIMatch, strategy Strategy, keepLastN int, tokenIndex int) string {
	switch strategy {
	case StrategyMask:
		return strings.Repeat("*", len(m.MatchedText))
	case StrategyHash:
		sum := sha256.Sum256([]byte(m.MatchedText))
		return hex.EncodeToString(sum[:])[:16]
	case StrategyPartial:
		return partialRedact(m.MatchedText, keepLastN)
	case StrategyRemove:
		return ""
	case StrategyToken:
		return fmt.Sprintf("<%s-TOKEN-%d>", m.Kind, tokenIndex)
	default:
		return m.MatchedText
	}
}

func partialRedact(s string, keepLastN int) string {
	if keepLastN <= 0 {
		return strings.Repeat("*", len(s))
	}
	if keepLastN >= len(s) {
		return s
	}
	masked := len(s) - keepLastN
	return strings.Repeat("*", masked) + s[masked:]
}
