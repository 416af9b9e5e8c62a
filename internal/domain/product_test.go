package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProduct(t *testing.T, total int64) *Product {
	t.Helper()
	return NewProduct("widget", MustQuantity(total), MustQuantity(5))
}

func assertStock(t *testing.T, p *Product, total, available, reserved int64) {
	t.Helper()
	assert.Equal(t, total, p.Stock.Total.Int64(), "total")
	assert.Equal(t, available, p.Stock.Available.Int64(), "available")
	assert.Equal(t, reserved, p.Stock.Reserved.Int64(), "reserved")
}

func TestProduct_Reserve(t *testing.T) {
	p := newTestProduct(t, 100)
	now := time.Now().UTC()

	r, err := p.Reserve(NewOrderID(), MustQuantity(3), DefaultReservationTTL, now)
	require.NoError(t, err)

	assert.Equal(t, ReservationActive, r.State)
	assert.Equal(t, DefaultWarehouseID, r.WarehouseID)
	assert.Equal(t, now.Add(DefaultReservationTTL), r.ExpiresAt)
	assertStock(t, p, 100, 97, 3)
	assert.Equal(t, int64(2), p.Version)
}

func TestProduct_Reserve_InsufficientStock(t *testing.T) {
	p := newTestProduct(t, 2)

	_, err := p.Reserve(NewOrderID(), MustQuantity(3), DefaultReservationTTL, time.Now())
	require.ErrorIs(t, err, ErrInsufficientStock)

	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, int64(3), insufficientErr.Requested.Int64())
	assert.Equal(t, int64(2), insufficientErr.Available.Int64())

	// Failed reserve leaves the ledger untouched
	assertStock(t, p, 2, 2, 0)
	assert.Empty(t, p.Reservations)
}

func TestProduct_Reserve_Inactive(t *testing.T) {
	p := newTestProduct(t, 10)
	p.Active = false

	_, err := p.Reserve(NewOrderID(), MustQuantity(1), DefaultReservationTTL, time.Now())
	assert.ErrorIs(t, err, ErrProductInactive)
}

func TestProduct_Reserve_ZeroQuantity(t *testing.T) {
	p := newTestProduct(t, 10)

	_, err := p.Reserve(NewOrderID(), ZeroQuantity, DefaultReservationTTL, time.Now())
	assert.ErrorIs(t, err, ErrZeroQuantityLine)
}

func TestProduct_ConfirmReservation(t *testing.T) {
	p := newTestProduct(t, 100)
	now := time.Now().UTC()
	r, err := p.Reserve(NewOrderID(), MustQuantity(3), DefaultReservationTTL, now)
	require.NoError(t, err)

	require.NoError(t, p.ConfirmReservation(r.ID, now))

	// Confirm removes quantity from both reserved and total; available is untouched
	assertStock(t, p, 97, 97, 0)
	assert.Equal(t, ReservationConfirmed, r.State)

	// Re-confirming is a no-op success
	versionBefore := p.Version
	require.NoError(t, p.ConfirmReservation(r.ID, now))
	assert.Equal(t, versionBefore, p.Version)
}

func TestProduct_ConfirmReservation_AfterRelease(t *testing.T) {
	p := newTestProduct(t, 100)
	now := time.Now().UTC()
	r, err := p.Reserve(NewOrderID(), MustQuantity(3), DefaultReservationTTL, now)
	require.NoError(t, err)
	require.NoError(t, p.ReleaseReservation(r.ID, ReleaseReasonOrderCancelled, now))

	err = p.ConfirmReservation(r.ID, now)
	assert.ErrorIs(t, err, ErrReservationInvalid)
}

func TestProduct_ReleaseReservation(t *testing.T) {
	p := newTestProduct(t, 100)
	now := time.Now().UTC()
	r, err := p.Reserve(NewOrderID(), MustQuantity(5), DefaultReservationTTL, now)
	require.NoError(t, err)

	require.NoError(t, p.ReleaseReservation(r.ID, ReleaseReasonPaymentFailed, now))

	// Reserve then release restores the ledger (modulo version)
	assertStock(t, p, 100, 100, 0)
	assert.Equal(t, ReservationReleased, r.State)

	// Releasing again is a no-op success
	require.NoError(t, p.ReleaseReservation(r.ID, ReleaseReasonPaymentFailed, now))
}

func TestProduct_ReleaseReservation_Confirmed(t *testing.T) {
	p := newTestProduct(t, 100)
	now := time.Now().UTC()
	r, err := p.Reserve(NewOrderID(), MustQuantity(5), DefaultReservationTTL, now)
	require.NoError(t, err)
	require.NoError(t, p.ConfirmReservation(r.ID, now))

	err = p.ReleaseReservation(r.ID, ReleaseReasonOrderCancelled, now)
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
}

func TestProduct_ReturnReservation(t *testing.T) {
	p := newTestProduct(t, 100)
	now := time.Now().UTC()
	r, err := p.Reserve(NewOrderID(), MustQuantity(4), DefaultReservationTTL, now)
	require.NoError(t, err)
	require.NoError(t, p.ConfirmReservation(r.ID, now))
	assertStock(t, p, 96, 96, 0)

	require.NoError(t, p.ReturnReservation(r.ID, now))

	// A confirmed hold's quantity goes back into total and available
	assertStock(t, p, 100, 100, 0)
	assert.Equal(t, ReservationReleased, r.State)

	// Returning again is a no-op success
	versionBefore := p.Version
	require.NoError(t, p.ReturnReservation(r.ID, now))
	assert.Equal(t, versionBefore, p.Version)
	assertStock(t, p, 100, 100, 0)
}

func TestProduct_ReturnReservation_ActiveRejected(t *testing.T) {
	p := newTestProduct(t, 100)
	now := time.Now().UTC()
	r, err := p.Reserve(NewOrderID(), MustQuantity(4), DefaultReservationTTL, now)
	require.NoError(t, err)

	// An ACTIVE hold was never deducted; release is the right path
	err = p.ReturnReservation(r.ID, now)
	assert.ErrorIs(t, err, ErrReservationInvalid)
	assertStock(t, p, 100, 96, 4)

	err = p.ReturnReservation(NewReservationID(), now)
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestProduct_Adjust(t *testing.T) {
	p := newTestProduct(t, 10)
	now := time.Now().UTC()

	require.NoError(t, p.Adjust(5, AdjustmentInbound, now))
	assertStock(t, p, 15, 15, 0)

	require.NoError(t, p.Adjust(-3, AdjustmentLoss, now))
	assertStock(t, p, 12, 12, 0)

	// Cannot adjust below available
	err := p.Adjust(-13, AdjustmentCorrection, now)
	assert.ErrorIs(t, err, ErrStockInvariant)
	assertStock(t, p, 12, 12, 0)
}

func TestProduct_SweepExpired(t *testing.T) {
	p := newTestProduct(t, 10)
	now := time.Now().UTC()

	r1, err := p.Reserve(NewOrderID(), MustQuantity(2), time.Second, now)
	require.NoError(t, err)
	r2, err := p.Reserve(NewOrderID(), MustQuantity(3), time.Hour, now)
	require.NoError(t, err)

	expired, err := p.SweepExpired(now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, r1.ID, expired[0].ID)
	assert.Equal(t, ReservationExpired, r1.State)
	assert.Equal(t, ReservationActive, r2.State)
	assertStock(t, p, 10, 7, 3)

	// Second sweep finds nothing
	again, err := p.SweepExpired(now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestProduct_Invariants_AfterMixedOperations(t *testing.T) {
	p := newTestProduct(t, 50)
	now := time.Now().UTC()

	r1, err := p.Reserve(NewOrderID(), MustQuantity(10), DefaultReservationTTL, now)
	require.NoError(t, err)
	r2, err := p.Reserve(NewOrderID(), MustQuantity(5), DefaultReservationTTL, now)
	require.NoError(t, err)

	require.NoError(t, p.ConfirmReservation(r1.ID, now))
	require.NoError(t, p.ReleaseReservation(r2.ID, ReleaseReasonOrderCancelled, now))

	// total = available + reserved, reserved matches active reservations
	sum, err := p.Stock.Available.Add(p.Stock.Reserved)
	require.NoError(t, err)
	assert.Equal(t, p.Stock.Total.Int64(), sum.Int64())
	assert.Equal(t, p.ActiveReservedTotal().Int64(), p.Stock.Reserved.Int64())

	// deducted == initialTotal - currentTotal - openReserved
	deducted := int64(50) - p.Stock.Total.Int64() - p.Stock.Reserved.Int64()
	assert.Equal(t, int64(10), deducted)
}

func TestProduct_LowStock(t *testing.T) {
	p := NewProduct("widget", MustQuantity(10), MustQuantity(5))
	now := time.Now().UTC()

	assert.False(t, p.LowStock())

	_, err := p.Reserve(NewOrderID(), MustQuantity(6), DefaultReservationTTL, now)
	require.NoError(t, err)
	assert.True(t, p.LowStock())
}

func TestProduct_VersionStrictlyIncreases(t *testing.T) {
	p := newTestProduct(t, 10)
	now := time.Now().UTC()

	versions := []int64{p.Version}
	r, err := p.Reserve(NewOrderID(), MustQuantity(1), DefaultReservationTTL, now)
	require.NoError(t, err)
	versions = append(versions, p.Version)

	require.NoError(t, p.ConfirmReservation(r.ID, now))
	versions = append(versions, p.Version)

	require.NoError(t, p.Adjust(1, AdjustmentInbound, now))
	versions = append(versions, p.Version)

	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestProduct_CompactReservations(t *testing.T) {
	p := newTestProduct(t, 10)
	now := time.Now().UTC()

	r1, err := p.Reserve(NewOrderID(), MustQuantity(1), DefaultReservationTTL, now)
	require.NoError(t, err)
	_, err = p.Reserve(NewOrderID(), MustQuantity(1), DefaultReservationTTL, now)
	require.NoError(t, err)
	require.NoError(t, p.ReleaseReservation(r1.ID, ReleaseReasonOrderCancelled, now))

	removed := p.CompactReservations(now.Add(time.Minute))
	assert.Equal(t, 1, removed)
	assert.Len(t, p.Reservations, 1)
}
