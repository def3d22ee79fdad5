package invalidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternMatcherExact(t *testing.T) {
	pm := NewPatternMatcher()
	keys := []string{"projects:3", "projects:4"}
	assert.Equal(t, []string{"projects:3"}, pm.Match("projects:3", keys))
}

func TestPatternMatcherPrefixWildcard(t *testing.T) {
	pm := NewPatternMatcher()
	keys := []string{"projects:3", "projects_slugs:old", "versions:9"}
	assert.ElementsMatch(t, []string{"projects:3"}, pm.Match("projects:*", keys))
}

func TestPatternMatcherSuffixWildcard(t *testing.T) {
	pm := NewPatternMatcher()
	keys := []string{"projects_slugs:old", "versions_files:sha1_abc"}
	assert.ElementsMatch(t, []string{"projects_slugs:old"}, pm.Match("*:old", keys))
}

func TestPatternMatcherValidatePatternRejectsTooLong(t *testing.T) {
	pm := NewPatternMatcher()
	long := make([]byte, 1001)
	err := pm.ValidatePattern(string(long))
	assert.Error(t, err)
}

func TestPatternMatcherValidatePatternAcceptsWildcard(t *testing.T) {
	pm := NewPatternMatcher()
	assert.NoError(t, pm.ValidatePattern("projects:*"))
}
