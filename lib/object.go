package lib

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/canopy-network/fastpath/lib/crypto"
)

const (
	ObjectIDSize = 20
	AddressSize  = crypto.AddressSize
	DigestSize   = crypto.HashSize

	ObjectStartVersion = SequenceNumber(1) // the version of every newly created object

	GasCoinType = "0x2::coin::Coin<0x2::gas::GAS>"
)

// ObjectID uniquely identifies an object across all of its versions
type ObjectID [ObjectIDSize]byte

// Address identifies an account; derived from the sender's ed25519 public key
type Address [AddressSize]byte

// SequenceNumber is the version of an object; it strictly increases with every mutation
type SequenceNumber uint64

// ObjectDigest is the hash of an object's canonical encoding at one version
type ObjectDigest [DigestSize]byte

// EpochID identifies the committee in charge
type EpochID uint64

var (
	// DeletedObjectDigest marks the version at which an object was deleted; history lookups still resolve it
	DeletedObjectDigest = fill[ObjectDigest](99)
	// FrameworkPackageID is the address of the native framework package created at genesis
	FrameworkPackageID = ObjectID{ObjectIDSize - 1: 2}
)

func fill[T ~[DigestSize]byte](b byte) (out T) {
	for i := range out {
		out[i] = b
	}
	return
}

// NewObjectID() returns a random object id; used by genesis and tests
func NewObjectID() (id ObjectID) {
	if _, err := rand.Read(id[:]); err != nil {
		panic(err)
	}
	return
}

// NewObjectIDFromString() decodes a hex object id
func NewObjectIDFromString(s string) (id ObjectID, err ErrorI) {
	err = fixedFromHex(s, id[:], "object id")
	return
}

// DeriveObjectID() deterministically creates the id of the n-th object created by a transaction
func DeriveObjectID(tx TransactionDigest, n uint64) (id ObjectID) {
	copy(id[:], crypto.HashMany(tx[:], Uint64ToBytes(n)))
	return
}

func (id ObjectID) Bytes() []byte                 { return id[:] }
func (id ObjectID) String() string                { return "0x" + hex.EncodeToString(id[:]) }
func (id ObjectID) Less(o ObjectID) bool          { return bytes.Compare(id[:], o[:]) < 0 }
func (id ObjectID) MarshalJSON() ([]byte, error)  { return json.Marshal(hex.EncodeToString(id[:])) }
func (id *ObjectID) UnmarshalJSON(b []byte) error { return fixedUnmarshalJSON(b, id[:], "object id") }

// NewAddressFromPublicKey() derives the account address of a sender key
func NewAddressFromPublicKey(pub crypto.PublicKeyI) (a Address) {
	copy(a[:], pub.Address())
	return
}

// NewAddressFromString() decodes a hex address
func NewAddressFromString(s string) (a Address, err ErrorI) {
	err = fixedFromHex(s, a[:], "address")
	return
}

func (a Address) Bytes() []byte                 { return a[:] }
func (a Address) String() string                { return hex.EncodeToString(a[:]) }
func (a Address) MarshalJSON() ([]byte, error)  { return json.Marshal(a.String()) }
func (a *Address) UnmarshalJSON(b []byte) error { return fixedUnmarshalJSON(b, a[:], "address") }

func (d ObjectDigest) String() string { return hex.EncodeToString(d[:]) }

// ObjectRef is an object id at a specific version and digest
type ObjectRef struct {
	ID      ObjectID       `codec:"id" json:"id"`
	Version SequenceNumber `codec:"version" json:"version"`
	Digest  ObjectDigest   `codec:"digest" json:"digest"`
}

// IsDeleted() returns true if the reference marks the deletion of the object
func (r ObjectRef) IsDeleted() bool { return r.Digest == DeletedObjectDigest }

func (r ObjectRef) String() string {
	return fmt.Sprintf("(%s, %d, %s)", r.ID, r.Version, hex.EncodeToString(r.Digest[:4]))
}

// CompareObjectRefs() orders references by id, then version, then digest
func CompareObjectRefs(a, b ObjectRef) int {
	if c := bytes.Compare(a.ID[:], b.ID[:]); c != 0 {
		return c
	}
	switch {
	case a.Version < b.Version:
		return -1
	case a.Version > b.Version:
		return 1
	}
	return bytes.Compare(a.Digest[:], b.Digest[:])
}

// OwnerKind enumerates who may use an object as a transaction input
type OwnerKind uint8

const (
	AddressOwner   OwnerKind = iota // owned by a single account
	SharedOwner                     // usable by anyone; requires ordering not provided here
	ImmutableOwner                  // read only forever (packages)
)

// Owner is the ownership of an object
type Owner struct {
	Kind    OwnerKind `codec:"kind" json:"kind"`
	Address Address   `codec:"address" json:"address"`
}

func NewAddressOwner(a Address) Owner { return Owner{Kind: AddressOwner, Address: a} }
func NewImmutableOwner() Owner        { return Owner{Kind: ImmutableOwner} }
func NewSharedOwner() Owner           { return Owner{Kind: SharedOwner} }

// IsOwnedBy() returns true if the owner is exactly the address
func (o Owner) IsOwnedBy(a Address) bool { return o.Kind == AddressOwner && o.Address == a }

func (o Owner) String() string {
	switch o.Kind {
	case AddressOwner:
		return "address(" + o.Address.String() + ")"
	case SharedOwner:
		return "shared"
	default:
		return "immutable"
	}
}

// OwnedObjectRef is a reference together with the owner of that version
type OwnedObjectRef struct {
	Reference ObjectRef `codec:"ref" json:"ref"`
	Owner     Owner     `codec:"owner" json:"owner"`
}

// MoveObject is a typed blob of contents interpreted by the executor
type MoveObject struct {
	Type     string `codec:"type" json:"type"`
	Contents []byte `codec:"contents" json:"contents"`
}

// Module is one named unit of published code
type Module struct {
	Name     string   `codec:"name" json:"name"`
	Bytecode HexBytes `codec:"bytecode" json:"bytecode"`
}

// MovePackage is an immutable set of modules
type MovePackage struct {
	Modules []Module `codec:"modules" json:"modules"`
}

// GetModule() returns the module by name
func (p *MovePackage) GetModule(name string) (*Module, bool) {
	for i := range p.Modules {
		if p.Modules[i].Name == name {
			return &p.Modules[i], true
		}
	}
	return nil, false
}

// Object is one version of a ledger object; exactly one of Move or Package is set
type Object struct {
	ID                  ObjectID          `codec:"id" json:"id"`
	Version             SequenceNumber    `codec:"version" json:"version"`
	Owner               Owner             `codec:"owner" json:"owner"`
	Move                *MoveObject       `codec:"move" json:"move,omitempty"`
	Package             *MovePackage      `codec:"package" json:"package,omitempty"`
	PreviousTransaction TransactionDigest `codec:"previousTx" json:"previousTx"`
	StorageRebate       uint64            `codec:"storageRebate" json:"storageRebate"`
}

// NewMoveObject() creates a new move object at the start version
func NewMoveObject(id ObjectID, owner Owner, typ string, contents []byte, previous TransactionDigest) *Object {
	return &Object{
		ID:                  id,
		Version:             ObjectStartVersion,
		Owner:               owner,
		Move:                &MoveObject{Type: typ, Contents: contents},
		PreviousTransaction: previous,
	}
}

// NewGasCoin() creates a gas coin owned by the address
func NewGasCoin(id ObjectID, owner Address, balance uint64) *Object {
	return NewMoveObject(id, NewAddressOwner(owner), GasCoinType, Uint64ToBytes(balance), GenesisTransactionDigest)
}

// NewPackageObject() creates an immutable package
func NewPackageObject(id ObjectID, modules []Module, previous TransactionDigest) *Object {
	return &Object{
		ID:                  id,
		Version:             ObjectStartVersion,
		Owner:               NewImmutableOwner(),
		Package:             &MovePackage{Modules: modules},
		PreviousTransaction: previous,
	}
}

// Digest() hashes the canonical encoding of the object
func (o *Object) Digest() (d ObjectDigest) {
	copy(d[:], crypto.Hash(MustMarshal(o)))
	return
}

// Reference() returns the reference of this version of the object
func (o *Object) Reference() ObjectRef {
	return ObjectRef{ID: o.ID, Version: o.Version, Digest: o.Digest()}
}

// Size() is the number of bytes the object occupies in storage; the base of storage gas
func (o *Object) Size() uint64 { return uint64(len(MustMarshal(o))) }

func (o *Object) IsPackage() bool   { return o.Package != nil }
func (o *Object) IsImmutable() bool { return o.Owner.Kind == ImmutableOwner }
func (o *Object) IsGasCoin() bool   { return o.Move != nil && o.Move.Type == GasCoinType }

// Clone() returns a deep copy of the object
func (o *Object) Clone() *Object {
	c := *o
	if o.Move != nil {
		c.Move = &MoveObject{Type: o.Move.Type, Contents: bytes.Clone(o.Move.Contents)}
	}
	if o.Package != nil {
		modules := make([]Module, len(o.Package.Modules))
		for i, m := range o.Package.Modules {
			modules[i] = Module{Name: m.Name, Bytecode: bytes.Clone(m.Bytecode)}
		}
		c.Package = &MovePackage{Modules: modules}
	}
	return &c
}

// Transfer() reassigns an address owned object to the recipient
func (o *Object) Transfer(recipient Address) ErrorI {
	if o.IsPackage() {
		return ErrTransferPackage(o.ID)
	}
	if o.Owner.Kind != AddressOwner {
		return ErrTransferUnowned(o.ID)
	}
	o.Owner = NewAddressOwner(recipient)
	return nil
}

// GasBalance() returns the balance of a gas coin
func (o *Object) GasBalance() (uint64, ErrorI) {
	if !o.IsGasCoin() || len(o.Move.Contents) != 8 {
		return 0, ErrInvalidGasObject(o.ID)
	}
	return binary.BigEndian.Uint64(o.Move.Contents), nil
}

// SetGasBalance() overwrites the balance of a gas coin
func (o *Object) SetGasBalance(balance uint64) ErrorI {
	if !o.IsGasCoin() {
		return ErrInvalidGasObject(o.ID)
	}
	o.Move.Contents = Uint64ToBytes(balance)
	return nil
}

// execution errors raised by object methods

func ErrTransferPackage(id ObjectID) ErrorI {
	return NewError(CodeTransferPackage, ExecutionModule, fmt.Sprintf("package %s cannot be transferred", id))
}

func ErrTransferUnowned(id ObjectID) ErrorI {
	return NewError(CodeTransferUnowned, ExecutionModule, fmt.Sprintf("object %s is not owned by an address", id))
}

func ErrInvalidGasObject(id ObjectID) ErrorI {
	return NewError(CodeInvalidGasObject, ExecutionModule, fmt.Sprintf("object %s is not a gas coin", id))
}
