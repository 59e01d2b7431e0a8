package injection

import (
	"sort"

	"github.com/reflexlayer/reflex/pkg/reflex"
)

// EntropyThreshold is the Shannon-entropy cutoff (bits/byte) above which a
// match is treated as a likely encoded payload for confidence purposes.
const EntropyThreshold = 4.0

// Config controls a single scan.
type Config struct {
	Mode                  Mode
	EnableContextAnalysis bool
	EnableEntropyCheck    bool
	SeverityThreshold     reflex.Severity // matches below this are dropped
}

// DefaultConfig returns the Standard mode with context analysis and entropy
// checking enabled, and a Low severity threshold (nothing dropped by default).
func DefaultConfig() Config {
	return Config{
		Mode:                  ModeStandard,
		EnableContextAnalysis: true,
		EnableEntropyCheck:    true,
		SeverityThreshold:     reflex.SeverityLow,
	}
}

type rawMatch struct {
	def   patternDef
	start int
	end   int
}

// Scan runs every pattern enabled by cfg.Mode against text, applies
// context-aware severity adjustment and confidence scoring, drops matches
// below cfg.SeverityThreshold, and returns the rest sorted by start. A panic
// in any single pattern is contained and that pattern is skipped.
func Scan(text string, cfg Config) []reflex.InjectionMatch {
	defs := enabledPatterns(cfg.Mode)

	var raw []rawMatch
	for _, def := range defs {
		raw = append(raw, scanPatternRaw(text, def)...)
	}

	totalRawCount := len(raw)

	var out []reflex.InjectionMatch
	for _, rm := range raw {
		matched := text[rm.start:rm.end]

		var ctx reflex.ContextAnalysis
		if cfg.EnableContextAnalysis {
			ctx = analyzeContext(text, rm.start, rm.end)
		} else {
			ctx.Entropy = shannonEntropy(matched)
		}

		severity := adjustSeverity(rm.def.Severity, ctx)
		confidence := computeConfidence(ctx, cfg, totalRawCount)

		if !severity.AtLeast(cfg.SeverityThreshold) {
			continue
		}

		out = append(out, reflex.InjectionMatch{
			PatternID:   rm.def.ID,
			Kind:        rm.def.Kind,
			Severity:    severity,
			Start:       rm.start,
			End:         rm.end,
			MatchedText: matched,
			Confidence:  confidence,
			Context:     ctx,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})

	return out
}

func scanPatternRaw(text string, def patternDef) (out []rawMatch) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
		}
	}()

	locs := def.re.FindAllStringIndex(text, -1)
	for _, loc := range locs {
		out = append(out, rawMatch{def: def, start: loc[0], end: loc[1]})
	}
	return out
}

// adjustSeverity applies the cumulative, fixed-order adjustment:
// (a) academic/testing reduces one level; (b) quoted/negation additionally
// maps Critical->Medium, High->Low, leaves Medium/Low unchanged.
func adjustSeverity(base reflex.Severity, ctx reflex.ContextAnalysis) reflex.Severity {
	sev := base
	if ctx.IsAcademic || ctx.IsTesting {
		sev = sev.Reduce()
	}
	if ctx.IsQuoted || ctx.IsNegation {
		switch sev {
		case reflex.SeverityCritical:
			sev = reflex.SeverityMedium
		case reflex.SeverityHigh:
			sev = reflex.SeverityLow
		}
	}
	return sev
}

// computeConfidence: base 0.7, +0.15 if entropy exceeds the threshold
// (only when entropy checking is enabled), +0.10 per additional raw match in
// the same input, capped at 1.0.
func computeConfidence(ctx reflex.ContextAnalysis, cfg Config, totalRawCount int) float64 {
	confidence := 0.7
	if cfg.EnableEntropyCheck && ctx.Entropy > EntropyThreshold {
		confidence += 0.15
	}
	additional := totalRawCount - 1
	if additional > 0 {
		confidence += 0.10 * float64(additional)
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}
