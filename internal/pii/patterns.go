// Package pii detects and redacts personally identifiable information in
// request text. Patterns are constructed once into a static, read-only table
// (the same registry idiom the rest of the codebase uses for its provider
// table) and compile with the standard library's RE2 engine, which runs in
// time linear in input length — no pattern, however adversarial, can force
// catastrophic backtracking.
package pii

import (
	"regexp"

	"github.com/reflexlayer/reflex/pkg/reflex"
)

// PatternSet names the enabled subset of the pattern table.
type PatternSet string

const (
	SetStrict   PatternSet = "Strict"
	SetStandard PatternSet = "Standard"
	SetRelaxed  PatternSet = "Relaxed"
)

// patternDef is the static metadata and matcher for one PIIType.
type patternDef struct {
	Kind      reflex.PIIType
	Severity  reflex.Severity
	Example   string
	re        *regexp.Regexp
	validator func(matched string) bool // nil if no structural validator exists
}

// registry is built once at package init and never mutated.
var registry = map[reflex.PIIType]patternDef{
	reflex.PIISSN: {
		Kind:      reflex.PIISSN,
		Severity:  reflex.SeverityCritical,
		Example:   "123-45-6789",
		re:        regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		validator: validateSSN,
	},
	reflex.PIICreditCard: {
		Kind:      reflex.PIICreditCard,
		Severity:  reflex.SeverityCritical,
		Example:   "4532-0151-1283-0366",
		re:        regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
		validator: validateLuhn,
	},
	reflex.PIIEmail: {
		Kind:      reflex.PIIEmail,
		Severity:  reflex.SeverityMedium,
		Example:   "user@example.com",
		re:        regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
		validator: validateEmail,
	},
	reflex.PIIApiKey: {
		Kind:     reflex.PIIApiKey,
		Severity: reflex.SeverityCritical,
		Example:  "sk-ant-api03-...",
		re:       regexp.MustCompile(`\b(?:sk-[A-Za-z0-9]{20,}|sk-ant-[A-Za-z0-9\-]{20,}|AKIA[0-9A-Z]{16}|ghp_[A-Za-z0-9]{36})\b`),
	},
	reflex.PIIPhone: {
		Kind:      reflex.PIIPhone,
		Severity:  reflex.SeverityMedium,
		Example:   "(555) 123-4567",
		re:        regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		validator: validatePhone,
	},
	reflex.PIIIPv4: {
		Kind:     reflex.PIIIPv4,
		Severity: reflex.SeverityLow,
		Example:  "192.168.1.1",
		re:       regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`),
	},
	reflex.PIIIPv6: {
		Kind:     reflex.PIIIPv6,
		Severity: reflex.SeverityLow,
		Example:  "2001:0db8:85a3::8a2e:0370:7334",
		re:       regexp.MustCompile(`\b(?:[A-Fa-f0-9]{1,4}:){2,7}[A-Fa-f0-9]{1,4}\b`),
	},
	reflex.PIIBitcoinAddress: {
		Kind:     reflex.PIIBitcoinAddress,
		Severity: reflex.SeverityMedium,
		Example:  "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		re:       regexp.MustCompile(`\b(?:bc1[A-Za-z0-9]{25,39}|[13][A-HJ-NP-Za-km-z1-9]{25,34})\b`),
	},
	reflex.PIIEthereumAddress: {
		Kind:     reflex.PIIEthereumAddress,
		Severity: reflex.SeverityMedium,
		Example:  "0x32Be343B94f860124dC4fEe278FDCBD38C102D88",
		re:       regexp.MustCompile(`\b0x[A-Fa-f0-9]{40}\b`),
	},
	reflex.PIIMacAddress: {
		Kind:     reflex.PIIMacAddress,
		Severity: reflex.SeverityLow,
		Example:  "00:1A:2B:3C:4D:5E",
		re:       regexp.MustCompile(`\b(?:[0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}\b`),
	},
	reflex.PIIDriversLicense: {
		Kind:     reflex.PIIDriversLicense,
		Severity: reflex.SeverityHigh,
		Example:  "D1234567",
		re:       regexp.MustCompile(`\b[A-Z]\d{7}\b`),
	},
	reflex.PIIPassport: {
		Kind:     reflex.PIIPassport,
		Severity: reflex.SeverityHigh,
		Example:  "X12345678",
		re:       regexp.MustCompile(`\b[A-Z]{1,2}\d{6,9}\b`),
	},
	reflex.PIIMedicalRecordNumber: {
		Kind:     reflex.PIIMedicalRecordNumber,
		Severity: reflex.SeverityHigh,
		Example:  "MRN-00012345",
		re:       regexp.MustCompile(`\bMRN[-:]?\s?\d{6,10}\b`),
	},
	reflex.PIIBankAccount: {
		Kind:     reflex.PIIBankAccount,
		Severity: reflex.SeverityCritical,
		Example:  "000123456789",
		re:       regexp.MustCompile(`\b\d{8,17}\b`),
	},
	reflex.PIIRoutingNumber: {
		Kind:     reflex.PIIRoutingNumber,
		Severity: reflex.SeverityHigh,
		Example:  "021000021",
		re:       regexp.MustCompile(`\b\d{9}\b`),
	},
	reflex.PIIITIN: {
		Kind:     reflex.PIIITIN,
		Severity: reflex.SeverityCritical,
		Example:  "912-70-1234",
		re:       regexp.MustCompile(`\b9\d{2}-\d{2}-\d{4}\b`),
	},
	reflex.PIIDateOfBirth: {
		Kind:     reflex.PIIDateOfBirth,
		Severity: reflex.SeverityMedium,
		Example:  "01/23/1985",
		re:       regexp.MustCompile(`\b(?:0[1-9]|1[0-2])[/\-](?:0[1-9]|[12]\d|3[01])[/\-](?:19|20)\d{2}\b`),
	},
	reflex.PIICustom: {
		Kind:     reflex.PIICustom,
		Severity: reflex.SeverityLow,
		Example:  "(configurable)",
		re:       regexp.MustCompile(`\bCUSTOM-[A-Z0-9]{6,}\b`),
	},
}

// setMembers lists, for each pattern set, the types it enables.
var setMembers = map[PatternSet][]reflex.PIIType{
	SetStrict: {
		reflex.PIISSN, reflex.PIICreditCard, reflex.PIIEmail, reflex.PIIApiKey,
	},
}

func init() {
	setMembers[SetStandard] = append(append([]reflex.PIIType{}, setMembers[SetStrict]...),
		reflex.PIIPhone, reflex.PIIIPv4, reflex.PIIIPv6,
		reflex.PIIBitcoinAddress, reflex.PIIEthereumAddress, reflex.PIIMacAddress,
	)
	setMembers[SetRelaxed] = append(append([]reflex.PIIType{}, setMembers[SetStandard]...),
		reflex.PIIDriversLicense, reflex.PIIPassport, reflex.PIIMedicalRecordNumber,
		reflex.PIIBankAccount, reflex.PIIRoutingNumber, reflex.PIIITIN,
		reflex.PIIDateOfBirth, reflex.PIICustom,
	)
}

// enabledPatterns returns the pattern definitions active for a set, in a
// stable order (table declaration order via setMembers).
func enabledPatterns(set PatternSet) []patternDef {
	members := setMembers[set]
	if members == nil {
		members = setMembers[SetStandard]
	}
	defs := make([]patternDef, 0, len(members))
	for _, kind := range members {
		defs = append(defs, registry[kind])
	}
	return defs
}
