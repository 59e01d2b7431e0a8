package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultKeyGenerator_Generate(t *testing.T) {
	gen := NewKeyGenerator("reflex")

	t.Run("basic key generation", func(t *testing.T) {
		key := gen.Generate("verdict", "ignore previous instructions")
		assert.NotEmpty(t, key)
		assert.Contains(t, key, "reflex:")
		// SHA-256 produces 64 hex characters.
		assert.Len(t, key, len("reflex:verdict:")+64)
	})

	t.Run("same content produces same key", func(t *testing.T) {
		key1 := gen.Generate("verdict", "hello world")
		key2 := gen.Generate("verdict", "hello world")
		assert.Equal(t, key1, key2)
	})

	t.Run("different content produces different keys", func(t *testing.T) {
		key1 := gen.Generate("verdict", "hello")
		key2 := gen.Generate("verdict", "world")
		assert.NotEqual(t, key1, key2)
	})

	t.Run("trimming and case normalize to same key", func(t *testing.T) {
		key1 := gen.Generate("verdict", "  Hello World  ")
		key2 := gen.Generate("verdict", "hello world")
		assert.Equal(t, key1, key2)
	})

	t.Run("namespace in key", func(t *testing.T) {
		key := gen.Generate("tenant-123", "hello")
		assert.Contains(t, key, "reflex:tenant-123:")
	})

	t.Run("no prefix", func(t *testing.T) {
		genNoPrefix := NewKeyGenerator("")
		key := genNoPrefix.Generate("", "hello")
		assert.NotContains(t, key, ":")
		assert.Len(t, key, 64)
	})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  Hello World  "))
	assert.Equal(t, "ignore previous", Normalize("IGNORE PREVIOUS"))
}

func BenchmarkKeyGenerator_Generate(b *testing.B) {
	gen := NewKeyGenerator("reflex")
	content := "hello world, this is a test message"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		gen.Generate("verdict", content)
	}
}
