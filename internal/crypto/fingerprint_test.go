package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("127.0.0.1 localhost\n")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("127.0.0.1 localhost\n"))
	assert.NotEqual(t, a, Fingerprint("127.0.0.1 localhost\n\n"))

	assert.Equal(t, a[:12], Short(a))
	assert.Equal(t, "abc", Short("abc"))
}
