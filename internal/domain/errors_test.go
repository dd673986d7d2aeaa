package domain_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/stock-ledger/internal/domain"
)

func TestError_ConservaSentinelYClave(t *testing.T) {
	err := domain.NewError(domain.ErrInsufficientStock, "t1/w1/p1", "disponible 40, solicitado 60")
	wrapped := fmt.Errorf("create delivery: %w", err)

	assert.ErrorIs(t, wrapped, domain.ErrInsufficientStock)
	assert.Equal(t, domain.KindInsufficientStock, domain.KindOf(wrapped))
	assert.Equal(t, "t1/w1/p1", domain.KeyOf(wrapped))
	assert.Contains(t, err.Error(), "t1/w1/p1")
}

func TestKindOf_SentinelSinEnvolver(t *testing.T) {
	assert.Equal(t, domain.KindLockTimeout, domain.KindOf(fmt.Errorf("x: %w", domain.ErrLockTimeout)))
	assert.Equal(t, domain.KindInternal, domain.KindOf(fmt.Errorf("boom")))
	assert.Equal(t, domain.Kind(""), domain.KindOf(nil))
}

func TestClasificacion_TransitoriosEIntegridad(t *testing.T) {
	assert.True(t, domain.IsRetryable(domain.NewError(domain.ErrLockTimeout, "k", "")))
	assert.True(t, domain.IsRetryable(domain.ErrConcurrentModification))
	assert.False(t, domain.IsRetryable(domain.ErrInsufficientStock))

	assert.True(t, domain.IsIntegrity(domain.ErrInsufficientLayers))
	assert.True(t, domain.IsIntegrity(domain.NewError(domain.ErrInvalidTransition, "m1", "")))
	assert.True(t, domain.IsIntegrity(domain.ErrValuationMethodMismatch))
	assert.False(t, domain.IsIntegrity(domain.ErrLockTimeout))
}
