package pii

import (
	"sort"

	"github.com/reflexlayer/reflex/pkg/reflex"
)

// Config controls a single scan.
type Config struct {
	PatternSet       PatternSet
	EnableValidation bool
	// EnableContext is reserved for parity with the injection engine's
	// context-analysis flag; the PII engine's confidence model is purely
	// pattern/validator-based, so this currently has no effect.
	EnableContext bool
}

// DefaultConfig returns the Standard pattern set with validation enabled.
func DefaultConfig() Config {
	return Config{PatternSet: SetStandard, EnableValidation: true}
}

// Scan runs every pattern in the configured set against text and returns
// matches sorted by start, ties broken by longer end. A panic in any single
// pattern's matching or validation is contained and that pattern is skipped;
// it never aborts the overall scan.
func Scan(text string, cfg Config) []reflex.PIIMatch {
	defs := enabledPatterns(cfg.PatternSet)
	var matches []reflex.PIIMatch

	for _, def := range defs {
		matches = append(matches, scanPattern(text, def, cfg.EnableValidation)...)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})

	return matches
}

func scanPattern(text string, def patternDef, enableValidation bool) (out []reflex.PIIMatch) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
		}
	}()

	locs := def.re.FindAllStringIndex(text, -1)
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		matched := text[start:end]

		confidence := 0.8
		if enableValidation && def.validator != nil {
			if !def.validator(matched) {
				continue
			}
			confidence = 1.0
		} else if def.validator == nil {
			confidence = 1.0
		}

		out = append(out, reflex.PIIMatch{
			Kind:        def.Kind,
			Start:       start,
			End:         end,
			MatchedText: matched,
			Confidence:  confidence,
			Severity:    def.Severity,
		})
	}
	return out
}
