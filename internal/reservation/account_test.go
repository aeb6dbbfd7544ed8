package reservation

import (
	"testing"
	"time"

	"pos-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func ptr(v int64) *int64 { return &v }

func reserveRow(key, user string, qty int, at time.Time) models.StockMovement {
	return models.StockMovement{
		ProductID:   1,
		BranchID:    1,
		SectionFrom: ptr(5),
		Delta:       -qty,
		Reason:      models.ReasonAdjust,
		ReferenceID: Adjust{Before: 10, After: 10 - qty, User: user, Context: Reserve{Key: key}}.String(),
		CreatedAt:   at,
	}
}

func releaseRow(key, user string, qty int, at time.Time) models.StockMovement {
	return models.StockMovement{
		ProductID:   1,
		BranchID:    1,
		SectionTo:   ptr(5),
		Delta:       qty,
		Reason:      models.ReasonAdjust,
		ReferenceID: Adjust{User: user, Context: Release{Key: key}}.String(),
		CreatedAt:   at,
	}
}

func saleRow(key, user string, consumed, delta int, at time.Time) models.StockMovement {
	return models.StockMovement{
		ProductID:   1,
		BranchID:    1,
		SectionFrom: ptr(5),
		Delta:       delta,
		Reason:      models.ReasonSale,
		ReferenceID: Sale{OrderID: 1, Consumed: consumed, User: user, Key: key}.String(),
		CreatedAt:   at,
	}
}

func TestCountNetsReserveReleaseAndSale(t *testing.T) {
	now := time.Now()
	movs := []models.StockMovement{
		reserveRow("CART|a", "7", 3, now),
		reserveRow("CART|a", "7", 2, now),
		releaseRow("CART|a", "7", 1, now),
		saleRow("CART|a", "7", 2, -1, now),
		reserveRow("CART|b", "7", 4, now),
	}

	tally := Count(movs, Owner{Key: "CART|a"})
	assert.Equal(t, 5, tally.Reserved)
	assert.Equal(t, 1, tally.Released)
	assert.Equal(t, 2, tally.Consumed)
	assert.Equal(t, 2, tally.Outstanding())
}

func TestCountByUserWhenKeyMissing(t *testing.T) {
	now := time.Now()
	movs := []models.StockMovement{
		reserveRow("CART|a", "7", 3, now),
		reserveRow("CART|b", "7", 1, now),
		reserveRow("CART|c", "8", 5, now),
	}

	assert.Equal(t, 4, Count(movs, Owner{User: "7"}).Outstanding())
	assert.Equal(t, 0, Count(movs, Owner{}).Outstanding())
}

func TestOutstandingFloorsAtZero(t *testing.T) {
	now := time.Now()
	movs := []models.StockMovement{
		reserveRow("CART|a", "7", 1, now),
		releaseRow("CART|a", "7", 3, now),
	}
	assert.Equal(t, 0, Count(movs, Owner{Key: "CART|a"}).Outstanding())
}

func TestCountByUserNetsUntaggedDecrements(t *testing.T) {
	now := time.Now()
	untagged := func(user string, delta int) models.StockMovement {
		return models.StockMovement{
			ProductID:   1,
			BranchID:    1,
			SectionFrom: ptr(5),
			Delta:       delta,
			Reason:      models.ReasonAdjust,
			ReferenceID: Adjust{Before: 10, After: 10 + delta, User: user}.String(),
			CreatedAt:   now,
		}
	}
	movs := []models.StockMovement{
		untagged("7", -2),
		untagged("7", 6),
		untagged("8", -4),
		releaseRow(UserKey("7"), "7", 1, now),
	}

	tally := Count(movs, Owner{User: "7"})
	assert.Equal(t, 2, tally.Reserved)
	assert.Equal(t, 1, tally.Released, "restocks are not releases")
	assert.Equal(t, 1, tally.Outstanding())
	assert.Zero(t, Count(movs, Owner{Key: "CART|a"}).Outstanding(), "keyed carts ignore untagged rows")
}

func TestSessionsGroupByKeyAndTrackActivity(t *testing.T) {
	old := time.Now().Add(-5 * time.Hour)
	recent := time.Now().Add(-time.Minute)
	movs := []models.StockMovement{
		reserveRow("CART|a", "7", 3, old),
		reserveRow("CART|b", "8", 2, recent),
		saleRow("CART|b", "8", 1, -1, recent),
		{ProductID: 1, BranchID: 1, Delta: -3, Reason: models.ReasonAdjust,
			ReferenceID: Adjust{Context: Reserve{Key: "CART|branch"}}.String()},
	}

	sessions := Sessions(movs)
	assert.Len(t, sessions, 2)

	a := sessions[SessionKey{ProductID: 1, BranchID: 1, SectionID: 5, Key: "CART|a"}]
	if assert.NotNil(t, a) {
		assert.Equal(t, 3, a.Outstanding())
		assert.Equal(t, "7", a.User)
		assert.True(t, a.LastActivity.Equal(old))
	}

	b := sessions[SessionKey{ProductID: 1, BranchID: 1, SectionID: 5, Key: "CART|b"}]
	if assert.NotNil(t, b) {
		assert.Equal(t, 1, b.Outstanding())
		assert.True(t, b.LastActivity.Equal(recent))
	}
}
