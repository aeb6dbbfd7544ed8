package lifecycle

import (
	"testing"

	"pos-service/internal/errs"
	"pos-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardMovesAreLegal(t *testing.T) {
	chain := []models.OrderStatus{
		models.OrderStatusDraft,
		models.OrderStatusActive,
		models.OrderStatusPendingPayment,
		models.OrderStatusSuspended,
		models.OrderStatusPaid,
	}
	for i, from := range chain {
		for _, to := range chain[i+1:] {
			_, err := Plan(from, to)
			assert.NoError(t, err, "%s -> %s", from, to)
		}
	}
}

func TestBackwardMovesAreIllegal(t *testing.T) {
	_, err := Plan(models.OrderStatusPaid, models.OrderStatusActive)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindIllegalTransition))

	_, err = Plan(models.OrderStatusSuspended, models.OrderStatusActive)
	assert.True(t, errs.Is(err, errs.KindIllegalTransition))
}

func TestRefundOnlyFromPaid(t *testing.T) {
	tr, err := Plan(models.OrderStatusPaid, models.OrderStatusRefunded)
	require.NoError(t, err)
	assert.True(t, tr.Has(EffectRestock))
	assert.True(t, tr.Has(EffectRecordSalesReturn))

	for _, from := range []models.OrderStatus{
		models.OrderStatusDraft, models.OrderStatusActive, models.OrderStatusSuspended, models.OrderStatusCancelled,
	} {
		_, err := Plan(from, models.OrderStatusRefunded)
		assert.True(t, errs.Is(err, errs.KindIllegalTransition), "from %s", from)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, from := range []models.OrderStatus{
		models.OrderStatusCancelled, models.OrderStatusVoided, models.OrderStatusRefunded,
	} {
		assert.True(t, IsTerminal(from))
		for _, to := range []models.OrderStatus{
			models.OrderStatusActive, models.OrderStatusPaid, models.OrderStatusCancelled, models.OrderStatusVoided,
		} {
			if to == from {
				continue
			}
			_, err := Plan(from, to)
			assert.Error(t, err, "%s -> %s", from, to)
		}
	}
}

func TestCancelAndVoidRestockAndReleaseTable(t *testing.T) {
	for _, to := range []models.OrderStatus{models.OrderStatusCancelled, models.OrderStatusVoided} {
		tr, err := Plan(models.OrderStatusActive, to)
		require.NoError(t, err)
		assert.True(t, tr.Has(EffectRestock))
		assert.True(t, tr.Has(EffectReleaseTable))
		assert.False(t, tr.Has(EffectRecordSalesReturn))
	}
}

func TestPayBackfillsAndReleasesTable(t *testing.T) {
	tr, err := Plan(models.OrderStatusActive, models.OrderStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, EventPay, tr.Event)
	assert.True(t, tr.Has(EffectBackfillFromDraft))
	assert.True(t, tr.Has(EffectReleaseTable))
	assert.False(t, tr.Has(EffectRestock))
}

func TestLockingTransitionsLockTable(t *testing.T) {
	tr, err := Plan(models.OrderStatusDraft, models.OrderStatusActive)
	require.NoError(t, err)
	assert.True(t, tr.Has(EffectLockTable))

	tr, err = Plan(models.OrderStatusActive, models.OrderStatusSuspended)
	require.NoError(t, err)
	assert.True(t, tr.Has(EffectReleaseTable))
}

func TestUnknownStatusIsInvalid(t *testing.T) {
	_, err := Plan(models.OrderStatusActive, models.OrderStatus("SHIPPED"))
	assert.True(t, errs.Is(err, errs.KindInvalidRequest))
	assert.False(t, Known(models.OrderStatus("SHIPPED")))
}

func TestLockingStatusesMatchIsLocking(t *testing.T) {
	for _, s := range LockingStatuses() {
		assert.True(t, IsLocking(s))
	}
	assert.False(t, IsLocking(models.OrderStatusSuspended))
	assert.False(t, IsLocking(models.OrderStatusPaid))
}
