package pipelineerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigError_WrapsUnderlyingCause(t *testing.T) {
	cause := errors.New("unexpected end of file")
	err := ConfigError(cause, "parse config %s", "rules.yaml")

	require.True(t, Of(Config, err))
	require.False(t, Of(IO, err))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "parse config rules.yaml")
}

func TestOf_FalseForPlainError(t *testing.T) {
	require.False(t, Of(Channel, errors.New("boom")))
}

func TestOf_TrueThroughFmtWrap(t *testing.T) {
	err := IOError(errors.New("permission denied"), "watch directory")
	wrapped := fmt.Errorf("startup failed: %w", err)

	require.True(t, Of(IO, wrapped))
	require.False(t, Of(Schedule, wrapped))
}
