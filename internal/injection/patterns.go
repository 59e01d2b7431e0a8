// Package injection detects prompt-injection attempts in request text: a
// static catalog of regex patterns graded by severity, refined by a
// context analyzer that adjusts severity and confidence based on the
// surrounding window (academic/testing framing, quoting, negation, entropy).
package injection

import (
	"regexp"

	"github.com/reflexlayer/reflex/pkg/reflex"
)

// Mode names the enabled subset of the pattern catalog.
type Mode string

const (
	ModeStrict   Mode = "Strict"   // 4 Critical patterns
	ModeStandard Mode = "Standard" // Strict + 6 High patterns
	ModeRelaxed  Mode = "Relaxed"  // all 14 patterns
)

type patternDef struct {
	ID       string
	Kind     reflex.InjectionType
	Severity reflex.Severity
	re       *regexp.Regexp
}

// catalog is built once and never mutated. Order matters: it is the
// iteration order for scanning and determines stable output ordering among
// equal-start matches.
var catalog = []patternDef{
	// Critical (Strict set).
	{
		ID:       "ignore_previous",
		Kind:     reflex.InjectionIgnorePrevious,
		Severity: reflex.SeverityCritical,
		re:       regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget)\s+(?:all\s+|any\s+)?(?:the\s+)?(?:above\s+|previous\s+|prior\s+)?(?:instructions?|rules?|prompt|directives?)\b`),
	},
	{
		ID:       "new_instruction",
		Kind:     reflex.InjectionNewInstruction,
		Severity: reflex.SeverityCritical,
		re:       regexp.MustCompile(`(?i)\bfrom\s+now\s+on\b.{0,40}\bact\s+as\b|\byour\s+new\s+(?:instructions?|task|role)\s+(?:is|are)\b`),
	},
	{
		ID:       "role_manipulation",
		Kind:     reflex.InjectionRoleManipulation,
		Severity: reflex.SeverityCritical,
		re:       regexp.MustCompile(`(?i)\bpretend\s+(?:you\s+are|to\s+be)\b.{0,30}\bunrestricted\b|\byou\s+are\s+now\s+an?\s+unfiltered\s+assistant\b`),
	},
	{
		ID:       "developer_mode",
		Kind:     reflex.InjectionDeveloperMode,
		Severity: reflex.SeverityCritical,
		re:       regexp.MustCompile(`(?i)\b(?:DAN|developer\s+mode|dev\s+mode|no[\s-]?restrictions?\s+mode)\b`),
	},

	// High (Standard adds these).
	{
		ID:       "direct_extraction",
		Kind:     reflex.InjectionDirectExtraction,
		Severity: reflex.SeverityHigh,
		re:       regexp.MustCompile(`(?i)\b(?:show\s+me|reveal|tell\s+me|give\s+me)\s+your\s+(?:system\s+prompt|instructions?|rules?)\b`),
	},
	{
		ID:       "indirect_extraction",
		Kind:     reflex.InjectionIndirectExtraction,
		Severity: reflex.SeverityHigh,
		re:       regexp.MustCompile(`(?i)\bexplain\s+your\s+(?:programming|guidelines?)\b`),
	},
	{
		ID:       "delimiter_injection",
		Kind:     reflex.InjectionDelimiter,
		Severity: reflex.SeverityHigh,
		re:       regexp.MustCompile(`(?i)</system>|</context>|:::END:::|\[END\]|<!--\s*end`),
	},
	{
		ID:       "shell_command",
		Kind:     reflex.InjectionShellCommand,
		Severity: reflex.SeverityHigh,
		re:       regexp.MustCompile("\\$\\([^)]*\\)|`[^`]+`|&&|\\|\\||;\\s*\\w+"),
	},
	{
		ID:       "template_injection",
		Kind:     reflex.InjectionTemplate,
		Severity: reflex.SeverityHigh,
		re:       regexp.MustCompile(`\{\{[^}]*\}\}|\{%[^%]*%\}|\$\{[^}]*\}`),
	},
	{
		ID:       "data_exfiltration",
		Kind:     reflex.InjectionDataExfiltration,
		Severity: reflex.SeverityHigh,
		re:       regexp.MustCompile(`(?i)\bsend\s+all\s+data\b|\bhttps?://\S+\b.{0,20}\bPOST\b`),
	},

	// Medium (Relaxed adds these).
	{
		ID:       "roleplay_jailbreak",
		Kind:     reflex.InjectionRolePlayJailbreak,
		Severity: reflex.SeverityMedium,
		re:       regexp.MustCompile(`(?i)\blet'?s\s+play\s+a\s+game\b|\bimagine\s+a\s+scenario\s+where\b`),
	},
	{
		ID:       "nested_prompt",
		Kind:     reflex.InjectionNestedPrompt,
		Severity: reflex.SeverityMedium,
		re:       regexp.MustCompile(`(?i)\brespond\s+to\s+the\s+following\s*:\s*['"]`),
	},
	{
		ID:       "encoded_instruction",
		Kind:     reflex.InjectionEncodedInstruction,
		Severity: reflex.SeverityMedium,
		re:       regexp.MustCompile(`(?i)\bdecode\b.{0,40}\band\s+execute\b`),
	},
	{
		ID:       "memory_probing",
		Kind:     reflex.InjectionMemoryProbing,
		Severity: reflex.SeverityMedium,
		re:       regexp.MustCompile(`(?i)\blist\s+(?:previous|prior)\s+conversations?\b|\bshow\s+me\s+your\s+memory\b`),
	},
}

var modeMembers = map[Mode]map[reflex.Severity]bool{
	ModeStrict:   {reflex.SeverityCritical: true},
	ModeStandard: {reflex.SeverityCritical: true, reflex.SeverityHigh: true},
	ModeRelaxed:  {reflex.SeverityCritical: true, reflex.SeverityHigh: true, reflex.SeverityMedium: true, reflex.SeverityLow: true},
}

func enabledPatterns(mode Mode) []patternDef {
	allowed, ok := modeMembers[mode]
	if !ok {
		allowed = modeMembers[ModeStandard]
	}
	defs := make([]patternDef, 0, len(catalog))
	for _, def := range catalog {
		if allowed[def.Severity] {
			defs = append(defs, def)
		}
	}
	return defs
}
