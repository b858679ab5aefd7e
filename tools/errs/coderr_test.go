package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMsgCarriesCodeAndDetail(t *testing.T) {
	err := ErrNotAuthorized.WrapMsg("send", "conv", "c1")
	require.Error(t, err)
	assert.Equal(t, CodeNotAuthorized, CodeOf(err))
	assert.Contains(t, err.Error(), "conv=c1")
}

func TestIsMatchesByCode(t *testing.T) {
	err := ErrNotFound.WrapMsg("lookup")
	assert.True(t, errors.Is(err, &ErrNotFound))
	assert.False(t, errors.Is(err, &ErrNotAuthorized))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, 0, CodeOf(errors.New("plain")))
}

func TestOutcome(t *testing.T) {
	assert.False(t, OutcomeOK.Degraded())
	assert.True(t, OutcomeDegraded.Degraded())
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "degraded", OutcomeDegraded.String())
}
