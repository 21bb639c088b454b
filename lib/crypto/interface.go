package crypto

// PublicKeyI is the verification half of a key pair
type PublicKeyI interface {
	Address() []byte // the first AddressSize bytes of the hash of the public key bytes
	Bytes() []byte
	VerifyBytes(msg []byte, sig []byte) bool
	String() string
	Equals(PublicKeyI) bool
}

// PrivateKeyI is the signing half of a key pair
type PrivateKeyI interface {
	Bytes() []byte
	Sign(msg []byte) []byte
	PublicKey() PublicKeyI
	String() string
	Equals(PrivateKeyI) bool
}

// MultiPublicKeyI verifies one aggregated signature over a fixed, ordered list of public keys
type MultiPublicKeyI interface {
	AggregateSignatures() ([]byte, error)
	VerifyBytes(msg, aggregatedSignature []byte) bool
	AddSigner(signature []byte, index int) error
	SignerEnabledAt(i int) (bool, error)
	PublicKeys() (keys []PublicKeyI)
	Bitmap() []byte
}
