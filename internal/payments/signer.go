package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer verifies gateway-origin signatures. All comparisons are
// constant-time; signatures are computed over raw bytes, so callers must
// pass the body exactly as received. Any re-serialization breaks
// verification.
type Signer struct {
	secret []byte
}

func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex HMAC-SHA256 of raw.
func (s *Signer) Sign(raw []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature against the raw body.
func (s *Signer) Verify(raw []byte, signature string) bool {
	return hmac.Equal([]byte(s.Sign(raw)), []byte(signature))
}

// SignPair signs the "{orderID}|{paymentID}" pair used by the client
// verification call.
func (s *Signer) SignPair(gatewayOrderID, gatewayPaymentID string) string {
	return s.Sign([]byte(gatewayOrderID + "|" + gatewayPaymentID))
}

// VerifyPair checks a client-submitted verification signature.
func (s *Signer) VerifyPair(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return hmac.Equal([]byte(s.SignPair(gatewayOrderID, gatewayPaymentID)), []byte(signature))
}
