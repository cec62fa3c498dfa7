package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSeparators(t *testing.T) {
	assert.Equal(t, []string{"read", "write"}, Parse("read write"))
	assert.Equal(t, []string{"read", "write"}, Parse("read,write"))
	assert.Equal(t, []string{"read", "write"}, Parse(" read,  write "))
	assert.Empty(t, Parse(""))
}

func TestNormalizeDeduplicates(t *testing.T) {
	assert.Equal(t, []string{"read", "write"}, Normalize([]string{"read", "write", "read", ""}))
}

func TestSubset(t *testing.T) {
	allowed := []string{"read", "write"}
	assert.True(t, Subset([]string{"read"}, allowed))
	assert.True(t, Subset(nil, allowed))
	assert.False(t, Subset([]string{"read", "admin"}, allowed))
}

func TestIntersect(t *testing.T) {
	assert.Equal(t, []string{"read"}, Intersect([]string{"read", "admin"}, []string{"write", "read"}))
	assert.Empty(t, Intersect([]string{"admin"}, []string{"read"}))
}

func TestHasAny(t *testing.T) {
	assert.True(t, HasAny([]string{"read"}, []string{"read", "write"}))
	assert.False(t, HasAny([]string{"billing"}, []string{"read", "write"}))
	assert.False(t, HasAny(nil, []string{"read"}))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "read write", Join([]string{"read", "write"}))
}
