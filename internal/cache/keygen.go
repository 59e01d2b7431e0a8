package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"

	"golang.org/x/text/unicode/norm"
)

// DefaultKeyGenerator derives verdict cache keys from normalized request
// text: trim, lowercase, then Unicode NFC normalization, so that two
// requests differing only in surrounding whitespace, case, or composed vs.
// decomposed accents hit the same cached verdict. The engine configuration
// version (see SetConfigVersion) is folded into the hash, so a verdict cached
// under one PII/injection configuration is never served as a hit once that
// configuration hot-reloads to a different one.
type DefaultKeyGenerator struct {
	// Prefix is prepended to every generated key (the cache's namespace).
	Prefix string

	configVersion atomic.Value // string
}

// NewKeyGenerator creates a DefaultKeyGenerator with the given prefix.
func NewKeyGenerator(prefix string) *DefaultKeyGenerator {
	g := &DefaultKeyGenerator{Prefix: prefix}
	g.configVersion.Store("")
	return g
}

// SetConfigVersion updates the engine configuration version mixed into every
// key generated afterward. Callers wire this to the config manager's
// checksum so a hot-reload immediately changes the keys new lookups and
// writes use, leaving stale entries from the prior configuration
// unreachable rather than served as hits.
func (g *DefaultKeyGenerator) SetConfigVersion(version string) {
	g.configVersion.Store(version)
}

func (g *DefaultKeyGenerator) version() string {
	if v, ok := g.configVersion.Load().(string); ok {
		return v
	}
	return ""
}

// Normalize applies the key-generation normalization rules on their own,
// for callers that need the canonical form without hashing (e.g. testing
// whether two inputs would collide).
func Normalize(content string) string {
	trimmed := strings.ToLower(strings.TrimSpace(content))
	return norm.NFC.String(trimmed)
}

// Generate builds "[prefix:]namespace:sha256(config_version + normalized content)".
func (g *DefaultKeyGenerator) Generate(namespace, content string) string {
	normalized := Normalize(content)
	hash := sha256.Sum256([]byte(g.version() + "\x00" + normalized))
	hashHex := hex.EncodeToString(hash[:])

	var key strings.Builder
	if g.Prefix != "" {
		key.WriteString(g.Prefix)
		key.WriteString(":")
	}
	if namespace != "" {
		key.WriteString(namespace)
		key.WriteString(":")
	}
	key.WriteString(hashHex)
	return key.String()
}
