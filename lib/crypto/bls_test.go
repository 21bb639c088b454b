package crypto

import (
	"testing"

	"github.com/drand/kyber"
	"github.com/stretchr/testify/require"
)

func TestBLSMultiKey(t *testing.T) {
	// generate a message to test with
	msg := []byte("certificate digest")
	// create three bls private keys
	var keys []PrivateKeyI
	var points []kyber.Point
	for i := 0; i < 3; i++ {
		k, err := NewBLSPrivateKey()
		require.NoError(t, err)
		keys = append(keys, k)
		// convert the public key to a kyber point
		point, err := NewBLSPointFromBytes(k.PublicKey().Bytes())
		require.NoError(t, err)
		points = append(points, point)
	}
	// generate a new multi-public key from that list
	multiKey, err := NewMultiBLSFromPoints(points)
	require.NoError(t, err)
	// the first and third keys sign
	require.NoError(t, multiKey.AddSigner(keys[0].Sign(msg), 0))
	require.NoError(t, multiKey.AddSigner(keys[2].Sign(msg), 2))
	// ensure the bitmap reflects the signers
	for i, expected := range []bool{true, false, true} {
		enabled, e := multiKey.SignerEnabledAt(i)
		require.NoError(t, e)
		require.Equal(t, expected, enabled)
	}
	// out of range signers are rejected
	require.Error(t, multiKey.AddSigner(keys[1].Sign(msg), 3))
	// aggregate the signature
	sig, err := multiKey.AggregateSignatures()
	require.NoError(t, err)
	require.Len(t, sig, BLS12381SignatureSize)
	// the aggregate verifies over the message and fails over another
	require.True(t, multiKey.VerifyBytes(msg, sig))
	require.False(t, multiKey.VerifyBytes([]byte("other"), sig))
}

func TestBLSKeyEncoding(t *testing.T) {
	k, err := NewBLSPrivateKey()
	require.NoError(t, err)
	// private key round trips through hex
	k2, err := NewBLSPrivateKeyFromString(k.String())
	require.NoError(t, err)
	require.True(t, k.Equals(k2))
	// public key round trips through bytes
	pub, err := NewBLSPublicKeyFromBytes(k.PublicKey().Bytes())
	require.NoError(t, err)
	require.True(t, pub.Equals(k.PublicKey()))
	require.Len(t, pub.Bytes(), BLS12381PubKeySize)
	require.Len(t, pub.Address(), AddressSize)
	// individual signatures verify
	sig := k.Sign([]byte("msg"))
	require.True(t, pub.VerifyBytes([]byte("msg"), sig))
	require.False(t, pub.VerifyBytes([]byte("msg2"), sig))
	// json encoding
	bz, err := k.(*BLS12381PrivateKey).MarshalJSON()
	require.NoError(t, err)
	k3 := new(BLS12381PrivateKey)
	require.NoError(t, k3.UnmarshalJSON(bz))
	require.True(t, k.Equals(k3))
}
