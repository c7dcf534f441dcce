package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	origV, origSHA, origTime := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = origV, origSHA, origTime })

	Version, GitSHA, BuildTime = "0.3.1", "abc1234", "2026-01-02T03:04:05Z"
	assert.Equal(t, "0.3.1 (git abc1234, built 2026-01-02T03:04:05Z)", String())
}
