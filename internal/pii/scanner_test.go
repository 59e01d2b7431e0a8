package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reflexlayer/reflex/pkg/reflex"
)

func TestScan_ValidatedCreditCard(t *testing.T) {
	matches := Scan("my card is 4532015112830366 thanks", Config{PatternSet: SetStrict, EnableValidation: true})
	require1 := func() {
		if len(matches) != 1 {
			t.Fatalf("expected 1 match, got %d: %+v", len(matches), matches)
		}
	}
	require1()
	assert.Equal(t, reflex.PIICreditCard, matches[0].Kind)
	assert.Equal(t, 1.0, matches[0].Confidence)
}

func TestScan_InvalidLuhnDropped(t *testing.T) {
	matches := Scan("my card is 4532015112830367 thanks", Config{PatternSet: SetStrict, EnableValidation: true})
	for _, m := range matches {
		assert.NotEqual(t, reflex.PIICreditCard, m.Kind)
	}
}

func TestScan_SSNValidation(t *testing.T) {
	valid := Scan("ssn 523-45-6789 here", Config{PatternSet: SetStrict, EnableValidation: true})
	assert.Len(t, valid, 1)

	invalid := Scan("ssn 000-45-6789 here", Config{PatternSet: SetStrict, EnableValidation: true})
	assert.Empty(t, invalid)
}

func TestScan_EmailValidation(t *testing.T) {
	matches := Scan("contact user@example.com now", Config{PatternSet: SetStrict, EnableValidation: true})
	assert.Len(t, matches, 1)
	assert.Equal(t, reflex.PIIEmail, matches[0].Kind)
}

func TestScan_PatternSetMembership(t *testing.T) {
	text := "ip 192.168.1.1 email user@example.com"

	strict := Scan(text, Config{PatternSet: SetStrict, EnableValidation: true})
	for _, m := range strict {
		assert.NotEqual(t, reflex.PIIIPv4, m.Kind)
	}

	standard := Scan(text, Config{PatternSet: SetStandard, EnableValidation: true})
	found := false
	for _, m := range standard {
		if m.Kind == reflex.PIIIPv4 {
			found = true
		}
	}
	assert.True(t, found)
}

func TestScan_SortedByStart(t *testing.T) {
	text := "email user@example.com and ip 10.0.0.1"
	matches := Scan(text, Config{PatternSet: SetStandard, EnableValidation: true})
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i-1].Start, matches[i].Start)
	}
}

func TestScan_PatternOnlyConfidence(t *testing.T) {
	matches := Scan("call 5551234567 please", Config{PatternSet: SetStandard, EnableValidation: false})
	found := false
	for _, m := range matches {
		if m.Kind == reflex.PIIPhone {
			found = true
			assert.Equal(t, 0.8, m.Confidence)
		}
	}
	assert.True(t, found)
}

func TestScan_NoMatches(t *testing.T) {
	matches := Scan("nothing sensitive here", DefaultConfig())
	assert.Empty(t, matches)
}

func TestRedact_Mask(t *testing.T) {
	text := "ssn is 523-45-6789 ok"
	matches := Scan(text, Config{PatternSet: SetStrict, EnableValidation: true})
	redacted := Redact(text, matches, StrategyMask, 0)
	assert.NotContains(t, redacted, "523-45-6789")
	assert.Contains(t, redacted, "***********")
}

func TestRedact_Hash(t *testing.T) {
	text := "ssn is 523-45-6789 ok"
	matches := Scan(text, Config{PatternSet: SetStrict, EnableValidation: true})
	redacted := Redact(text, matches, StrategyHash, 0)
	assert.NotContains(t, redacted, "523-45-6789")
}

func TestRedact_Partial(t *testing.T) {
	text := "ssn is 523-45-6789 ok"
	matches := Scan(text, Config{PatternSet: SetStrict, EnableValidation: true})
	redacted := Redact(text, matches, StrategyPartial, 4)
	assert.Contains(t, redacted, "6789")
}

func TestRedact_Remove(t *testing.T) {
	text := "ssn is 523-45-6789 ok"
	matches := Scan(text, Config{PatternSet: SetStrict, EnableValidation: true})
	redacted := Redact(text, matches, StrategyRemove, 0)
	assert.Equal(t, "ssn is  ok", redacted)
}

func TestRedact_Token(t *testing.T) {
	text := "ssn is 523-45-6789 ok"
	matches := Scan(text, Config{PatternSet: SetStrict, EnableValidation: true})
	redacted := Redact(text, matches, StrategyToken, 0)
	assert.Contains(t, redacted, "SSN-TOKEN-1")
}

func TestRedact_MultipleMatchesReverseOffset(t *testing.T) {
	text := "a@b.com and c@d.com"
	matches := Scan(text, Config{PatternSet: SetStrict, EnableValidation: true})
	redacted := Redact(text, matches, StrategyRemove, 0)
	assert.Equal(t, " and ", redacted)
}

func TestLuhn(t *testing.T) {
	assert.True(t, validateLuhn("4532015112830366"))
	assert.False(t, validateLuhn("4532015112830367"))
}
