package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitArgs(t *testing.T) {
	args, err := SplitArgs(`-hwaccel cuda -hwaccel_output_format "cuda"`)
	assert.NoError(t, err)
	assert.Equal(t, []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}, args)

	_, err = SplitArgs(`-hwaccel "cuda`)
	assert.Error(t, err)
}

func TestSanitizeArgs(t *testing.T) {
	t.Run("Valid arguments", func(t *testing.T) {
		assert.NoError(t, SanitizeArgs([]string{"-hwaccel", "auto"}))
	})

	t.Run("Disallowed character (semicolon)", func(t *testing.T) {
		err := SanitizeArgs([]string{"auto;", "ls"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: auto;")
	})

	t.Run("Disallowed character (dollar)", func(t *testing.T) {
		err := SanitizeArgs([]string{"$(($RANDOM))"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument")
	})

	t.Run("Reserved flag", func(t *testing.T) {
		err := SanitizeArgs([]string{"-i", "other.wav"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "argument -i is reserved")
	})
}

func TestParseHWAccelArgs(t *testing.T) {
	args, err := ParseHWAccelArgs(false, "-hwaccel auto")
	assert.NoError(t, err)
	assert.Nil(t, args)

	args, err = ParseHWAccelArgs(true, "  ")
	assert.NoError(t, err)
	assert.Nil(t, args)

	args, err = ParseHWAccelArgs(true, "-hwaccel auto")
	assert.NoError(t, err)
	assert.Equal(t, []string{"-hwaccel", "auto"}, args)

	_, err = ParseHWAccelArgs(true, "-y")
	assert.Error(t, err)
}
