package lib

import (
	"testing"

	"github.com/canopy-network/fastpath/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestInputObjects(t *testing.T) {
	sender, recipient := newTestAddress(t), newTestAddress(t)
	coin := ObjectRef{ID: NewObjectID(), Version: 1}
	gas := ObjectRef{ID: NewObjectID(), Version: 3}
	pkg := ObjectRef{ID: NewObjectID(), Version: 1}
	tests := []struct {
		name     string
		detail   string
		data     TransactionData
		expected []InputObjectKind
		error    ErrorCode
	}{
		{
			name:   "empty",
			detail: "a transaction without operations has no inputs",
			data:   TransactionData{Sender: sender, GasPayment: gas},
			error:  CodeEmptyTransaction,
		},
		{
			name:   "transfer",
			detail: "the transferred object comes first and the gas object last",
			data:   NewTransferData(sender, recipient, coin, gas, 10),
			expected: []InputObjectKind{
				{Kind: OwnedObjectInput, Reference: coin},
				{Kind: OwnedObjectInput, Reference: gas},
			},
		},
		{
			name:   "gas is transferred",
			detail: "the gas object may not be an operation input too",
			data:   NewTransferData(sender, recipient, gas, gas, 10),
			error:  CodeDuplicateInput,
		},
		{
			name:   "call",
			detail: "a call depends on its package by id only",
			data:   NewMoveCallData(sender, pkg, "coin", "split", []ObjectRef{coin}, nil, gas, 10),
			expected: []InputObjectKind{
				{Kind: MovePackageInput, Reference: ObjectRef{ID: pkg.ID}},
				{Kind: OwnedObjectInput, Reference: coin},
				{Kind: OwnedObjectInput, Reference: gas},
			},
		},
		{
			name:   "package called twice",
			detail: "the same package may back more than one call",
			data: TransactionData{
				Kinds: []SingleTransactionKind{
					{Call: &MoveCall{Package: pkg, Module: "coin", Function: "split"}},
					{Call: &MoveCall{Package: pkg, Module: "coin", Function: "join", ObjectArguments: []ObjectRef{coin}}},
				},
				Sender:     sender,
				GasPayment: gas,
			},
			expected: []InputObjectKind{
				{Kind: MovePackageInput, Reference: ObjectRef{ID: pkg.ID}},
				{Kind: OwnedObjectInput, Reference: coin},
				{Kind: OwnedObjectInput, Reference: gas},
			},
		},
		{
			name:   "object used twice",
			detail: "an owned object may only be consumed once",
			data: TransactionData{
				Kinds: []SingleTransactionKind{
					{Transfer: &Transfer{Recipient: recipient, Object: coin}},
					{Transfer: &Transfer{Recipient: sender, Object: coin}},
				},
				Sender:     sender,
				GasPayment: gas,
			},
			error: CodeDuplicateInput,
		},
		{
			name:     "publish",
			detail:   "a publish only consumes the gas object",
			data:     NewPublishData(sender, nil, gas, 10),
			expected: []InputObjectKind{{Kind: OwnedObjectInput, Reference: gas}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// execute the function call
			got, err := test.data.InputObjects()
			if test.error != 0 {
				require.True(t, ErrorIs(err, MainModule, test.error), err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.expected, got)
		})
	}
}

func TestTransactionSignature(t *testing.T) {
	key, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	other, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	sender := NewAddressFromPublicKey(key.PublicKey())
	data := NewTransferData(sender, newTestAddress(t), ObjectRef{ID: NewObjectID(), Version: 1}, ObjectRef{ID: NewObjectID(), Version: 1}, 10)
	tests := []struct {
		name   string
		detail string
		tx     func() *Transaction
		error  ErrorCode
	}{
		{
			name:   "valid",
			detail: "signed by the sender",
			tx:     func() *Transaction { return NewTransaction(data, key) },
		},
		{
			name:   "wrong sender",
			detail: "signed by a key that does not own the sender address",
			tx:     func() *Transaction { return NewTransaction(data, other) },
			error:  CodeInvalidSender,
		},
		{
			name:   "tampered",
			detail: "the data changed after signing",
			tx: func() *Transaction {
				tx := NewTransaction(data, key)
				tx.Data.GasBudget++
				return tx
			},
			error: CodeInvalidSignature,
		},
		{
			name:   "bad public key",
			detail: "the public key does not decode",
			tx: func() *Transaction {
				tx := NewTransaction(data, key)
				tx.PublicKey = []byte{1, 2, 3}
				return tx
			},
			error: CodeInvalidPublicKey,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// execute the function call
			err := test.tx().VerifySignature()
			if test.error != 0 {
				require.True(t, ErrorIs(err, MainModule, test.error), err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransactionDigest(t *testing.T) {
	key, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	data := NewTransferData(NewAddressFromPublicKey(key.PublicKey()), newTestAddress(t), ObjectRef{ID: NewObjectID()}, ObjectRef{ID: NewObjectID()}, 10)
	tx := NewTransaction(data, key)
	// the digest covers the data only
	stripped := &Transaction{Data: data}
	require.Equal(t, tx.Digest(), stripped.Digest())
	data.GasBudget++
	require.NotEqual(t, tx.Digest(), NewTransaction(data, key).Digest())
	// hex round trip
	got, e := NewTransactionDigestFromString(tx.Digest().String())
	require.NoError(t, e)
	require.Equal(t, tx.Digest(), got)
	_, e = NewTransactionDigestFromString("abcd")
	require.Error(t, e)
	// ordering
	low, high := TransactionDigest{0x01}, TransactionDigest{0x02}
	require.True(t, low.Less(high))
	require.False(t, high.Less(low))
	require.False(t, low.Less(low))
}

func newTestAddress(t *testing.T) Address {
	key, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	return NewAddressFromPublicKey(key.PublicKey())
}
