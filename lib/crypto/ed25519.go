package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
)

const (
	Ed25519PrivKeySize   = ed25519.PrivateKeySize
	Ed25519PubKeySize    = ed25519.PublicKeySize
	Ed25519SignatureSize = ed25519.SignatureSize
)

// ED25519PrivateKey signs transactions on behalf of an account; the account address is derived from the public key
type ED25519PrivateKey struct{ ed25519.PrivateKey }

// ensure ED25519PrivateKey satisfies PrivateKeyI interface
var _ PrivateKeyI = &ED25519PrivateKey{}

// NewEd25519PrivateKey() generates a new ED25519 private key
func NewEd25519PrivateKey() (PrivateKeyI, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ED25519PrivateKey{PrivateKey: priv}, nil
}

// NewED25519PrivateKeyFromBytes() creates a new PrivateKeyI interface from ED25519 bytes
func NewED25519PrivateKeyFromBytes(bz []byte) (PrivateKeyI, error) {
	if len(bz) != Ed25519PrivKeySize {
		return nil, errors.New("invalid ed25519 private key length")
	}
	return &ED25519PrivateKey{PrivateKey: bz}, nil
}

// String() returns the hex string representation of the private key
func (p *ED25519PrivateKey) String() string { return hex.EncodeToString(p.Bytes()) }

// Bytes() casts the private key to bytes
func (p *ED25519PrivateKey) Bytes() []byte { return p.PrivateKey }

// Sign() returns the digital signature out of an Ed25519 private key sign function given a message
func (p *ED25519PrivateKey) Sign(msg []byte) []byte { return ed25519.Sign(p.PrivateKey, msg) }

// PublicKey() returns the public pair to the private key
func (p *ED25519PrivateKey) PublicKey() PublicKeyI {
	return &ED25519PublicKey{PublicKey: p.PrivateKey.Public().(ed25519.PublicKey)}
}

// Equals() compares two private key objects
func (p *ED25519PrivateKey) Equals(key PrivateKeyI) bool {
	return p.PrivateKey.Equal(ed25519.PrivateKey(key.Bytes()))
}

// MarshalJSON() encodes the key as a hex string
func (p *ED25519PrivateKey) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON() decodes the key from a hex string
func (p *ED25519PrivateKey) UnmarshalJSON(b []byte) (err error) {
	var s string
	if err = json.Unmarshal(b, &s); err != nil {
		return
	}
	bz, err := hex.DecodeString(s)
	if err != nil {
		return
	}
	pk, err := NewED25519PrivateKeyFromBytes(bz)
	if err != nil {
		return
	}
	*p = *pk.(*ED25519PrivateKey)
	return
}

// ED25519PublicKey verifies transaction signatures
type ED25519PublicKey struct{ ed25519.PublicKey }

// ensure ED25519PublicKey satisfies PublicKeyI interface
var _ PublicKeyI = &ED25519PublicKey{}

// NewED25519PublicKeyFromBytes() wraps raw ed25519 public key bytes
func NewED25519PublicKeyFromBytes(bz []byte) (PublicKeyI, error) {
	if len(bz) != Ed25519PubKeySize {
		return nil, errors.New("invalid ed25519 public key length")
	}
	return &ED25519PublicKey{PublicKey: bz}, nil
}

// Address() returns the short hash of the public key
func (p *ED25519PublicKey) Address() []byte { return ShortHash(p.Bytes()) }

// Bytes() casts the public key to bytes
func (p *ED25519PublicKey) Bytes() []byte { return p.PublicKey }

// String() returns the hex string representation of the public key
func (p *ED25519PublicKey) String() string { return hex.EncodeToString(p.Bytes()) }

// VerifyBytes() returns true if the signature was created by the private pair of this key
func (p *ED25519PublicKey) VerifyBytes(msg []byte, sig []byte) bool {
	if len(sig) != Ed25519SignatureSize {
		return false
	}
	return ed25519.Verify(p.PublicKey, msg, sig)
}

// Equals() compares two public key objects
func (p *ED25519PublicKey) Equals(i PublicKeyI) bool {
	return p.PublicKey.Equal(ed25519.PublicKey(i.Bytes()))
}
