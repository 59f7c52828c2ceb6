package namegen

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuffix(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{5}$`)
	for range 100 {
		assert.Regexp(t, pattern, Suffix(SuffixLength))
	}
}

func TestInstance(t *testing.T) {
	name := Instance("batch")
	assert.True(t, strings.HasPrefix(name, "batch-"))
	assert.Len(t, name, len("batch-")+SuffixLength)
}

func TestGet(t *testing.T) {
	assert.NotEmpty(t, Get().String())
}
