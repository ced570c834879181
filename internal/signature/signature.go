// Package signature verifies client payment-authorization signatures.
//
// The facilitator never implements curve math or address derivation itself;
// it depends on a SignatureService capability that can sign and verify. The
// default capability recovers a secp256k1 personal-message signature and
// compares the recovered address against the claimed payer.
package signature

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrMalformedSignature = errors.New("signature: malformed signature")
	ErrInvalidAddress     = errors.New("signature: invalid address")
)

// Service is the capability the verifier delegates to.
type Service interface {
	// Sign signs a message and returns the hex-encoded signature.
	Sign(ctx context.Context, message string) (string, error)
	// Verify reports whether sig over message was produced by address.
	Verify(ctx context.Context, address, sig, message string) (bool, error)
}

// Verifier wraps a Service and guarantees that verification failures of any
// kind (including capability errors) surface as a false verdict, never as a
// propagated error.
type Verifier struct {
	svc    Service
	logger *slog.Logger
}

// NewVerifier creates a verifier around the given capability.
func NewVerifier(svc Service, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{svc: svc, logger: logger}
}

// Verify checks message against sig and the claimed signer address. Holds no
// state and performs no network I/O itself.
func (v *Verifier) Verify(ctx context.Context, address, sig, message string) bool {
	ok, err := v.svc.Verify(ctx, address, sig, message)
	if err != nil {
		v.logger.Debug("signature verification error", "error", err)
		return false
	}
	return ok
}

// RecoverService verifies personal-message secp256k1 signatures by public
// key recovery. It can also sign when constructed with a private key, which
// the settlement payout path and tests use.
type RecoverService struct {
	key *keyHolder
}

type keyHolder struct {
	hexKey string
}

// NewRecoverService creates a verify-only recovery service.
func NewRecoverService() *RecoverService {
	return &RecoverService{}
}

// NewSigningService creates a recovery service that can also sign with the
// given hex private key.
func NewSigningService(privateKeyHex string) *RecoverService {
	return &RecoverService{key: &keyHolder{hexKey: strings.TrimPrefix(privateKeyHex, "0x")}}
}

func (s *RecoverService) Sign(_ context.Context, message string) (string, error) {
	if s.key == nil {
		return "", errors.New("signature: no signing key configured")
	}
	priv, err := crypto.HexToECDSA(s.key.hexKey)
	if err != nil {
		return "", err
	}
	hash := accounts.TextHash([]byte(message))
	sig, err := crypto.Sign(hash, priv)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (s *RecoverService) Verify(_ context.Context, address, sig, message string) (bool, error) {
	if !common.IsHexAddress(address) {
		return false, ErrInvalidAddress
	}
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return false, ErrMalformedSignature
	}
	if len(sigBytes) != 65 {
		return false, ErrMalformedSignature
	}
	// Normalize the recovery id: wallets emit 27/28, crypto wants 0/1.
	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}
	hash := accounts.TextHash([]byte(message))
	pub, err := crypto.SigToPub(hash, sigBytes)
	if err != nil {
		return false, ErrMalformedSignature
	}
	recovered := crypto.PubkeyToAddress(*pub)
	return recovered == common.HexToAddress(address), nil
}

// Address derives the signer address for a signing-capable service.
func (s *RecoverService) Address() (string, error) {
	if s.key == nil {
		return "", errors.New("signature: no signing key configured")
	}
	priv, err := crypto.HexToECDSA(s.key.hexKey)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(priv.PublicKey).Hex(), nil
}
