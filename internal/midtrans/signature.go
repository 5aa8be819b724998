package midtrans

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/xenking/preloved-shop/internal/domain/payment"
)

var _ payment.Verifier = (*Signer)(nil)

// Signer computes and checks notification signatures:
// hex(SHA512(order_id + status_code + gross_amount + server_key)).
type Signer struct {
	serverKey []byte
}

// NewSigner creates a Signer for the given server key.
func NewSigner(serverKey string) *Signer {
	return &Signer{serverKey: []byte(serverKey)}
}

// Sign returns the lowercase hex signature for the given fields.
func (s *Signer) Sign(orderID, statusCode, grossAmount string) string {
	h := sha512.New()
	h.Write([]byte(orderID))
	h.Write([]byte(statusCode))
	h.Write([]byte(grossAmount))
	h.Write(s.serverKey)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether n carries a valid signature. The comparison is
// constant-time and ignores hex letter case.
func (s *Signer) Verify(n payment.Notification) bool {
	if n.Signature == "" {
		return false
	}
	want := s.Sign(n.OrderID, n.StatusCode, n.GrossAmount)
	got := strings.ToLower(n.Signature)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
