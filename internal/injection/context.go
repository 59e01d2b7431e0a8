package injection

import (
	"math"
	"regexp"
	"strings"

	"github.com/reflexlayer/reflex/pkg/reflex"
)

// windowRadius bounds how much surrounding text is examined around a raw
// match for context analysis.
const windowRadius = 80

var (
	academicMarkers = []string{"research", "example of", "for study", "academic", "hypothetically"}
	testingMarkers  = []string{"unit test", "test case", "debug", "testing"}
	negationMarkers = []string{"don't", "do not", "never", "won't", "will not"}

	shellTokenRe    = regexp.MustCompile("\\$\\(|`|&&|\\|\\||;")
	templateDelimRe = regexp.MustCompile(`\{\{|\{%|\$\{`)
	htmlTagRe       = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

	quotePairs = [][2]byte{{'"', '"'}, {'\'', '\''}}
	fenceRe    = regexp.MustCompile("```")
)

// analyzeContext builds a ContextAnalysis for the window around [start, end)
// in text.
func analyzeContext(text string, start, end int) reflex.ContextAnalysis {
	wStart := start - windowRadius
	if wStart < 0 {
		wStart = 0
	}
	wEnd := end + windowRadius
	if wEnd > len(text) {
		wEnd = len(text)
	}
	window := text[wStart:wEnd]
	lowerWindow := strings.ToLower(window)
	matched := text[start:end]

	ca := reflex.ContextAnalysis{
		IsAcademic: containsAny(lowerWindow, academicMarkers),
		IsQuoted:   isQuoted(text, start, end, wStart, wEnd),
		IsNegation: isNegated(lowerWindow, text, start, wStart),
		IsTesting:  containsAny(lowerWindow, testingMarkers),
		Entropy:    shannonEntropy(matched),
	}

	var indicators []string
	if shellTokenRe.MatchString(matched) {
		indicators = append(indicators, "shell_token")
	}
	if templateDelimRe.MatchString(matched) {
		indicators = append(indicators, "template_delimiter")
	}
	if htmlTagRe.MatchString(matched) {
		indicators = append(indicators, "html_tag")
	}
	ca.Indicators = indicators

	return ca
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// isNegated checks for a negation marker preceding the match, within the
// window's leading portion (between window start and match start).
func isNegated(lowerWindow string, text string, start, wStart int) bool {
	preceding := strings.ToLower(text[wStart:start])
	return containsAny(preceding, negationMarkers)
}

// isQuoted reports whether the match lies inside a paired quote or a fenced
// code block within the window.
func isQuoted(text string, start, end, wStart, wEnd int) bool {
	window := text[wStart:wEnd]
	matchStartInWindow := start - wStart

	if fenceRe.MatchString(window) {
		fences := fenceRe.FindAllStringIndex(window, -1)
		for i := 0; i+1 < len(fences); i += 2 {
			if matchStartInWindow >= fences[i][1] && matchStartInWindow <= fences[i+1][0] {
				return true
			}
		}
	}

	for _, qp := range quotePairs {
		open, close := qp[0], qp[1]
		before := window[:min(matchStartInWindow, len(window))]
		after := window[min(end-wStart, len(window)):]
		openCount := strings.Count(before, string(open))
		if openCount > 0 && openCount%2 == 1 && strings.ContainsRune(after, rune(close)) {
			return true
		}
	}
	return false
}

// shannonEntropy computes the Shannon entropy, in bits per byte, of s. High
// entropy (close to the theoretical max for the alphabet in use) suggests an
// encoded payload such as base64 or hex.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	entropy := 0.0
	n := float64(len(s))
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
