package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/preloved-shop/internal/domain/payment"
	"github.com/xenking/preloved-shop/internal/midtrans"
)

func TestSignedNotification(t *testing.T) {
	signer := midtrans.NewSigner("SB-Mid-server-seed")
	body := signedNotification(signer, "order-1", "185000.00", "settlement")

	n, err := midtrans.ParseNotification([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "order-1", n.OrderID)
	assert.Equal(t, int64(185000), n.Amount)
	assert.True(t, signer.Verify(n))

	m, known := midtrans.MapStatus(n.TransactionStatus, n.FraudStatus)
	assert.True(t, known)
	assert.Equal(t, payment.Mapping{Order: "PENDING", Payment: "PAID"}, m)
}
