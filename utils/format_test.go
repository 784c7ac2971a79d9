package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoolToYesNo(t *testing.T) {
	t.Run("true returns Yes", func(t *testing.T) {
		assert.Equal(t, "Yes", BoolToYesNo(true))
	})

	t.Run("false returns No", func(t *testing.T) {
		assert.Equal(t, "No", BoolToYesNo(false))
	})
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", HumanBytes(512))
	assert.Equal(t, "1.0 KiB", HumanBytes(1024))
	assert.Equal(t, "1.5 KiB", HumanBytes(1536))
	assert.Equal(t, "16.0 MiB", HumanBytes(16*1024*1024))
	assert.Equal(t, "2.0 GiB", HumanBytes(2*1024*1024*1024))
}
