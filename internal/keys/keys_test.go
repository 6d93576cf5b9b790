package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	assert.Equal(t, "user:1", Build("", "user:1", true))
	assert.Equal(t, "app:user:1", Build("app", "user:1", false))

	long := strings.Repeat("k", MaxPlain+1)
	assert.Equal(t, "app:"+long, Build("app", long, false))

	h := Build("app", long, true)
	assert.True(t, strings.HasPrefix(h, "app:h:"))
	assert.Len(t, h, len("app:h:")+64)
	assert.Equal(t, h, Build("app", long, true), "hashing is deterministic")

	exact := strings.Repeat("k", MaxPlain)
	assert.Equal(t, "app:"+exact, Build("app", exact, true))
}

func TestPrefixAndLock(t *testing.T) {
	assert.Equal(t, "app:user:", Prefix("app", "user:"))
	assert.Equal(t, "user:", Prefix("", "user:"))
	assert.Equal(t, "lock:app:user:1", LockResource(Build("app", "user:1", true)))
}
