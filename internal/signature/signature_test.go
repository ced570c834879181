package signature

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway development key; never holds real funds.
const testPrivKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestRecoverService_SignVerifyRoundTrip(t *testing.T) {
	svc := NewSigningService(testPrivKey)
	addr, err := svc.Address()
	require.NoError(t, err)

	ctx := context.Background()
	msg := "x402-exact-utxo|payload"

	sig, err := svc.Sign(ctx, msg)
	require.NoError(t, err)

	ok, err := svc.Verify(ctx, addr, sig, msg)
	require.NoError(t, err)
	assert.True(t, ok)

	// Wrong message recovers a different signer.
	ok, err = svc.Verify(ctx, addr, sig, msg+"tampered")
	require.NoError(t, err)
	assert.False(t, ok)

	// Wrong claimed address.
	ok, err = svc.Verify(ctx, "0x0000000000000000000000000000000000000001", sig, msg)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecoverService_ZeroXPrefixedKey(t *testing.T) {
	plain := NewSigningService(testPrivKey)
	prefixed := NewSigningService("0x" + testPrivKey)

	a1, err := plain.Address()
	require.NoError(t, err)
	a2, err := prefixed.Address()
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

func TestRecoverService_MalformedInput(t *testing.T) {
	svc := NewRecoverService()
	ctx := context.Background()
	addr := "0x1111111111111111111111111111111111111111"

	_, err := svc.Verify(ctx, "not-an-address", "0x00", "msg")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = svc.Verify(ctx, addr, "zz", "msg")
	assert.ErrorIs(t, err, ErrMalformedSignature)

	// Right hex, wrong length.
	_, err = svc.Verify(ctx, addr, "0xdeadbeef", "msg")
	assert.ErrorIs(t, err, ErrMalformedSignature)
}

func TestRecoverService_VerifyOnlyCannotSign(t *testing.T) {
	svc := NewRecoverService()
	_, err := svc.Sign(context.Background(), "msg")
	assert.Error(t, err)
	_, err = svc.Address()
	assert.Error(t, err)
}

// failingService always errors, standing in for a broken capability.
type failingService struct{}

func (failingService) Sign(context.Context, string) (string, error) {
	return "", errors.New("capability down")
}

func (failingService) Verify(context.Context, string, string, string) (bool, error) {
	return false, errors.New("capability down")
}

func TestVerifier_ErrorsSurfaceAsFalse(t *testing.T) {
	v := NewVerifier(failingService{}, nil)
	assert.False(t, v.Verify(context.Background(), "0xabc", "0xsig", "msg"))
}

func TestVerifier_DelegatesVerdict(t *testing.T) {
	svc := NewSigningService(testPrivKey)
	addr, err := svc.Address()
	require.NoError(t, err)

	sig, err := svc.Sign(context.Background(), "hello")
	require.NoError(t, err)

	v := NewVerifier(NewRecoverService(), nil)
	assert.True(t, v.Verify(context.Background(), addr, sig, "hello"))
	assert.False(t, v.Verify(context.Background(), addr, sig, "goodbye"))
}
