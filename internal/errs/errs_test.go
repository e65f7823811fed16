package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindRetryable(t *testing.T) {
	assert.True(t, KindProviderError.Retryable())
	assert.True(t, KindTimeout.Retryable())
	assert.False(t, KindNotFound.Retryable())
	assert.False(t, KindValidation.Retryable())
	assert.False(t, KindStateConflict.Retryable())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := ProviderError(cause, "fetch pr failed")

	assert.Equal(t, KindProviderError, err.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fetch pr failed")
}

func TestAsExtractsTypedError(t *testing.T) {
	wrapped := NotFound("workflow missing").WithDetail("wf-1")

	extracted, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindNotFound, extracted.Kind)
	assert.Equal(t, "wf-1", extracted.Detail)
}
