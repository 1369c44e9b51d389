package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceManagerRejectsUnknownAction(t *testing.T) {
	sm, err := NewServiceManager(nil)
	require.NoError(t, err)

	err = sm.Control("explode")
	assert.ErrorContains(t, err, "service explode")
	assert.NotEmpty(t, ConfigPath())
	assert.Contains(t, Actions, "install")
}
