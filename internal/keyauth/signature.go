package keyauth

import (
	"crypto/ed25519"
	"encoding/hex"

	dErrors "brickledger/pkg/domain-errors"
)

// VerifySignature checks an ed25519 signature over payload against a
// hex-encoded public key. Private keys never enter this package; signatories
// sign out of band and submit only the signature.
func VerifySignature(publicKeyHex string, payload, signatureHex []byte) error {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return dErrors.New(dErrors.CodePolicyViolation, "malformed public key")
	}
	sig, err := hex.DecodeString(string(signatureHex))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return dErrors.New(dErrors.CodeUnauthorized, "malformed signature")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, sig) {
		return dErrors.New(dErrors.CodeUnauthorized, "signature verification failed")
	}
	return nil
}
