//go:build !windows
// +build !windows

package platform

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElevatedMatchesEffectiveUser(t *testing.T) {
	assert.Equal(t, os.Geteuid() == 0, Elevated())
}
