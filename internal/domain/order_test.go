package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testItems(t *testing.T) []OrderItem {
	t.Helper()
	return []OrderItem{
		{
			ProductID:   NewProductID(),
			ProductName: "widget",
			Quantity:    MustQuantity(2),
			UnitPrice:   MustMoney("10.00", "USD"),
		},
		{
			ProductID:   NewProductID(),
			ProductName: "gadget",
			Quantity:    MustQuantity(1),
			UnitPrice:   MustMoney("5.50", "USD"),
		},
	}
}

func newPendingOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder(NewCustomerID(), testItems(t))
	require.NoError(t, err)
	return o
}

// Advance an order to PAID through the legal path.
func newPaidOrder(t *testing.T) *Order {
	t.Helper()
	o := newPendingOrder(t)
	require.NoError(t, o.Confirm())
	require.NoError(t, o.StartPayment())
	require.NoError(t, o.StartPayment())
	require.NoError(t, o.MarkPaid(NewPaymentID(), time.Now().UTC()))
	return o
}

func TestNewOrder(t *testing.T) {
	o := newPendingOrder(t)

	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Equal(t, "25.50 USD", o.TotalAmount.String())
	assert.Equal(t, "20.00 USD", o.Items[0].LineTotal.String())
	assert.NotEmpty(t, o.ContentHash)
	assert.Equal(t, int64(1), o.Version)
	require.NoError(t, o.CheckInvariants())
}

func TestNewOrder_Validation(t *testing.T) {
	customerID := NewCustomerID()

	t.Run("no items", func(t *testing.T) {
		_, err := NewOrder(customerID, nil)
		assert.ErrorIs(t, err, ErrNoItems)
	})

	t.Run("too many items", func(t *testing.T) {
		items := make([]OrderItem, MaxOrderItems+1)
		for i := range items {
			items[i] = OrderItem{
				ProductID: NewProductID(),
				Quantity:  MustQuantity(1),
				UnitPrice: MustMoney("1.00", "USD"),
			}
		}
		_, err := NewOrder(customerID, items)
		assert.ErrorIs(t, err, ErrTooManyItems)
	})

	t.Run("duplicate product line", func(t *testing.T) {
		items := testItems(t)
		items[1].ProductID = items[0].ProductID
		_, err := NewOrder(customerID, items)
		assert.ErrorIs(t, err, ErrDuplicateLine)
	})

	t.Run("zero quantity line", func(t *testing.T) {
		items := testItems(t)
		items[0].Quantity = ZeroQuantity
		_, err := NewOrder(customerID, items)
		assert.ErrorIs(t, err, ErrZeroQuantityLine)
	})

	t.Run("negative price", func(t *testing.T) {
		items := testItems(t)
		items[0].UnitPrice = MustMoney("-1.00", "USD")
		_, err := NewOrder(customerID, items)
		assert.ErrorIs(t, err, ErrNegativePrice)
	})

	t.Run("mixed currencies", func(t *testing.T) {
		items := testItems(t)
		items[1].UnitPrice = MustMoney("5.50", "EUR")
		_, err := NewOrder(customerID, items)
		assert.ErrorIs(t, err, ErrCurrencyMismatch)
	})
}

func TestOrder_ContentHash_OrderIndependent(t *testing.T) {
	items := testItems(t)
	a, err := NewOrder(CustomerID{}, items)
	require.NoError(t, err)

	reversed := []OrderItem{items[1], items[0]}
	b, err := NewOrder(CustomerID{}, reversed)
	require.NoError(t, err)

	assert.Equal(t, a.ContentHash, b.ContentHash)
}

func TestOrder_HappyPath(t *testing.T) {
	o := newPendingOrder(t)

	require.NoError(t, o.Confirm())
	assert.Equal(t, OrderStatusConfirmed, o.Status)

	require.NoError(t, o.StartPayment())
	assert.Equal(t, OrderStatusPaymentPending, o.Status)

	require.NoError(t, o.StartPayment())
	assert.Equal(t, OrderStatusPaymentProcessing, o.Status)

	paymentID := NewPaymentID()
	require.NoError(t, o.MarkPaid(paymentID, time.Now().UTC()))
	assert.Equal(t, OrderStatusPaid, o.Status)
	require.NotNil(t, o.PaymentID)
	assert.Equal(t, paymentID, *o.PaymentID)
	require.NotNil(t, o.PaidAt)

	require.NoError(t, o.StartPreparing())
	require.NoError(t, o.Ship())
	require.NoError(t, o.Deliver())
	require.NoError(t, o.Complete())
	assert.Equal(t, OrderStatusCompleted, o.Status)
	assert.True(t, o.Status.IsTerminal())
	require.NoError(t, o.CheckInvariants())
}

func TestOrder_IllegalTransitions(t *testing.T) {
	o := newPendingOrder(t)

	var transitionErr *InvalidTransitionError

	err := o.MarkPaid(NewPaymentID(), time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, OrderStatusPending, transitionErr.From)

	assert.ErrorIs(t, o.Ship(), ErrInvalidTransition)
	assert.ErrorIs(t, o.Deliver(), ErrInvalidTransition)
	assert.ErrorIs(t, o.StartRefund("x"), ErrInvalidTransition)
	assert.ErrorIs(t, o.StartPayment(), ErrInvalidTransition)
}

func TestOrder_Cancel(t *testing.T) {
	now := time.Now().UTC()

	t.Run("pending", func(t *testing.T) {
		o := newPendingOrder(t)
		require.NoError(t, o.Cancel("changed my mind", CancelledByCustomer, DefaultCancellationWindow, now))
		assert.Equal(t, OrderStatusCancelled, o.Status)
		assert.Equal(t, CancelledByCustomer, o.CancelledBy)

		// Repeat cancel is a no-op
		require.NoError(t, o.Cancel("again", CancelledByCustomer, DefaultCancellationWindow, now))
	})

	t.Run("payment pending rejected", func(t *testing.T) {
		o := newPendingOrder(t)
		require.NoError(t, o.Confirm())
		require.NoError(t, o.StartPayment())
		require.Equal(t, OrderStatusPaymentPending, o.Status)

		err := o.Cancel("too late", CancelledByCustomer, DefaultCancellationWindow, now)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("paid inside window", func(t *testing.T) {
		o := newPaidOrder(t)
		err := o.Cancel("return", CancelledByCustomer, DefaultCancellationWindow, o.PaidAt.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, OrderStatusCancelled, o.Status)
	})

	t.Run("paid outside window", func(t *testing.T) {
		o := newPaidOrder(t)
		err := o.Cancel("return", CancelledByCustomer, DefaultCancellationWindow, o.PaidAt.Add(25*time.Hour))
		assert.ErrorIs(t, err, ErrCancellationExpired)
		assert.Equal(t, OrderStatusPaid, o.Status)
	})

	t.Run("system cancel ignores window", func(t *testing.T) {
		o := newPaidOrder(t)
		err := o.Cancel("fraud hold", CancelledBySystem, DefaultCancellationWindow, o.PaidAt.Add(48*time.Hour))
		require.NoError(t, err)
	})

	t.Run("terminal states rejected", func(t *testing.T) {
		o := newPendingOrder(t)
		require.NoError(t, o.Fail("no stock"))
		err := o.Cancel("x", CancelledBySystem, DefaultCancellationWindow, now)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestOrder_Fail(t *testing.T) {
	o := newPendingOrder(t)
	require.NoError(t, o.Fail("insufficient stock"))
	assert.Equal(t, OrderStatusFailed, o.Status)
	assert.Equal(t, "insufficient stock", o.CancellationReason)

	// Repeat is a no-op
	require.NoError(t, o.Fail("other reason"))
	assert.Equal(t, "insufficient stock", o.CancellationReason)

	// FAILED from PAYMENT_PROCESSING
	o2 := newPendingOrder(t)
	require.NoError(t, o2.Confirm())
	require.NoError(t, o2.StartPayment())
	require.NoError(t, o2.StartPayment())
	require.NoError(t, o2.Fail("gateway unreachable"))
	assert.Equal(t, OrderStatusFailed, o2.Status)
}

func TestOrder_Refund(t *testing.T) {
	o := newPaidOrder(t)

	require.NoError(t, o.StartRefund("defective"))
	assert.Equal(t, OrderStatusRefunding, o.Status)

	require.NoError(t, o.CompleteRefund())
	assert.Equal(t, OrderStatusRefunded, o.Status)

	// Repeat complete is a no-op
	require.NoError(t, o.CompleteRefund())
	require.NoError(t, o.CheckInvariants())
}

func TestOrder_AttachReservation(t *testing.T) {
	o := newPendingOrder(t)
	resID := NewReservationID()

	require.NoError(t, o.AttachReservation(o.Items[0].ProductID, resID))
	require.NotNil(t, o.Items[0].ReservationID)
	assert.Equal(t, resID, *o.Items[0].ReservationID)

	err := o.AttachReservation(NewProductID(), resID)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestOrder_VersionBumpsOnTransitions(t *testing.T) {
	o := newPendingOrder(t)
	v := o.Version

	require.NoError(t, o.Confirm())
	assert.Greater(t, o.Version, v)
}
