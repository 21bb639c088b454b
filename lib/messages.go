package lib

import "context"

// AuthorityAPI is the request surface every authority exposes; implemented in process by the
// authority state and over http by the rpc client. Every handler is idempotent under retry.
type AuthorityAPI interface {
	// HandleTransaction() locks the owned inputs of a transaction and returns the authority's vote
	HandleTransaction(ctx context.Context, tx *Transaction) (*TransactionInfoResponse, ErrorI)
	// HandleConfirmationTransaction() executes a certificate and returns the signed effects
	HandleConfirmationTransaction(ctx context.Context, cert *CertifiedTransaction) (*TransactionInfoResponse, ErrorI)
	// HandleAccountInfoRequest() lists the latest references of the objects owned by an address
	HandleAccountInfoRequest(ctx context.Context, req *AccountInfoRequest) (*AccountInfoResponse, ErrorI)
	// HandleObjectInfoRequest() returns an object at its latest or a past version with the certificate that created it
	HandleObjectInfoRequest(ctx context.Context, req *ObjectInfoRequest) (*ObjectInfoResponse, ErrorI)
	// HandleTransactionInfoRequest() returns whatever the authority knows about a transaction
	HandleTransactionInfoRequest(ctx context.Context, req *TransactionInfoRequest) (*TransactionInfoResponse, ErrorI)
	// HandleCheckpointRequest() returns the authority's current checkpoint proposal
	HandleCheckpointRequest(ctx context.Context, req *CheckpointRequest) (*CheckpointResponse, ErrorI)
}

// TransactionInfoRequest asks for the state of one transaction
type TransactionInfoRequest struct {
	TransactionDigest TransactionDigest `codec:"txDigest" json:"txDigest"`
}

// TransactionInfoResponse is returned by the transaction and certificate handlers; any field may be empty
type TransactionInfoResponse struct {
	SignedTransaction    *SignedTransaction        `codec:"signedTx" json:"signedTx,omitempty"`
	CertifiedTransaction *CertifiedTransaction     `codec:"certifiedTx" json:"certifiedTx,omitempty"`
	SignedEffects        *SignedTransactionEffects `codec:"signedEffects" json:"signedEffects,omitempty"`
}

// ObjectInfoRequest asks for an object at a version; a nil version means the latest
type ObjectInfoRequest struct {
	ObjectID ObjectID        `codec:"objectID" json:"objectID"`
	Version  *SequenceNumber `codec:"version" json:"version,omitempty"`
}

// NewLatestObjectInfoRequest() asks for the latest version of the object
func NewLatestObjectInfoRequest(id ObjectID) *ObjectInfoRequest {
	return &ObjectInfoRequest{ObjectID: id}
}

// NewPastObjectInfoRequest() asks for the certificate that produced an exact version of the object
func NewPastObjectInfoRequest(id ObjectID, version SequenceNumber) *ObjectInfoRequest {
	return &ObjectInfoRequest{ObjectID: id, Version: &version}
}

// ObjectResponse is the latest object and the vote that currently locks it, if any
type ObjectResponse struct {
	Object Object             `codec:"object" json:"object"`
	Lock   *SignedTransaction `codec:"lock" json:"lock,omitempty"`
}

// ObjectInfoResponse answers an ObjectInfoRequest; an unknown object yields an empty response
type ObjectInfoResponse struct {
	ParentCertificate        *CertifiedTransaction `codec:"parentCert" json:"parentCert,omitempty"`
	RequestedObjectReference *ObjectRef            `codec:"requestedRef" json:"requestedRef,omitempty"`
	ObjectAndLock            *ObjectResponse       `codec:"objectAndLock" json:"objectAndLock,omitempty"`
}

// AccountInfoRequest asks for the objects owned by an address
type AccountInfoRequest struct {
	Account Address `codec:"account" json:"account"`
}

// AccountInfoResponse lists the latest references the authority knows for the owner
type AccountInfoResponse struct {
	ObjectIDs []ObjectRef `codec:"objectIDs" json:"objectIDs"`
	Owner     Address     `codec:"owner" json:"owner"`
}

// CheckpointRequest asks for the current proposal
type CheckpointRequest struct {
	// Latest forces a fresh proposal when the stored one is for an older sequence
	Latest bool `codec:"latest" json:"latest"`
}

// CheckpointResponse carries the proposal and the checkpoint the authority expects next
type CheckpointResponse struct {
	Proposal       *CheckpointProposal `codec:"proposal" json:"proposal,omitempty"`
	NextCheckpoint uint64              `codec:"nextCheckpoint" json:"nextCheckpoint"`
}
