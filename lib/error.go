package lib

import (
	"fmt"
	"math"
	"strings"
)

// ErrorI is the error type returned by every module of the authority
type ErrorI interface {
	Code() ErrorCode     // Returns the error code
	Module() ErrorModule // Returns the error module
	error                // Implements the built-in error interface
}

var _ ErrorI = &Error{} // Ensures *Error implements ErrorI

type ErrorCode uint32 // Defines a type for error codes

type ErrorModule string // Defines a type for error modules

// Error is the concrete ErrorI; the json tags let an error cross the rpc boundary with its code intact
type Error struct {
	ECode   ErrorCode   `json:"code" codec:"code"`
	EModule ErrorModule `json:"module" codec:"module"`
	Msg     string      `json:"msg" codec:"msg"`
}

func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

// ErrorIs() returns true if the error carries the module and code
func ErrorIs(err ErrorI, module ErrorModule, code ErrorCode) bool {
	return err != nil && err.Module() == module && err.Code() == code
}

// IsStaleStateError() returns true if the error means the authority is missing a dependency of the request
// (an object version or a prior certificate) and may recover by replaying certificates
func IsStaleStateError(err ErrorI) bool {
	if err == nil || err.Module() != AuthorityModule {
		return false
	}
	switch err.Code() {
	case CodeObjectNotFound, CodeUnexpectedSequenceNumber, CodeInvalidObjectDigest:
		return true
	}
	return false
}

// JoinErrors() flattens a list of errors into a single message
func JoinErrors(errs []ErrorI) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := e.Error()
		if le, ok := e.(*Error); ok {
			msg = le.Msg
		}
		msgs = append(msgs, fmt.Sprintf("[%s:%d] %s", e.Module(), e.Code(), msg))
	}
	return strings.Join(msgs, "; ")
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeJSONMarshal       ErrorCode = 1
	CodeJSONUnmarshal     ErrorCode = 2
	CodeMarshal           ErrorCode = 3
	CodeUnmarshal         ErrorCode = 4
	CodeInvalidSignature  ErrorCode = 5
	CodeInvalidPublicKey  ErrorCode = 6
	CodeInvalidSender     ErrorCode = 7
	CodeEmptyCommittee    ErrorCode = 8
	CodeZeroWeight        ErrorCode = 9
	CodeUnknownAuthority  ErrorCode = 10
	CodeDuplicateSigner   ErrorCode = 11
	CodeWrongEpoch        ErrorCode = 12
	CodeCertificateWeight ErrorCode = 13
	CodeStringToBytes     ErrorCode = 14
	CodeWrongLength       ErrorCode = 15
	CodeReadFile          ErrorCode = 16
	CodeWriteFile         ErrorCode = 17
	CodeEmptyTransaction  ErrorCode = 18
	CodeDuplicateInput    ErrorCode = 19
	CodeLog               ErrorCode = 20

	// Storage Module
	StorageModule ErrorModule = "store"

	// Storage Module Error Codes
	CodeOpenDB      ErrorCode = 1
	CodeCloseDB     ErrorCode = 2
	CodeStoreSet    ErrorCode = 3
	CodeStoreGet    ErrorCode = 4
	CodeStoreDelete ErrorCode = 5
	CodeCommitDB    ErrorCode = 6
	CodeNilObject   ErrorCode = 7

	// Execution Module
	ExecutionModule ErrorModule = "execution"

	// Execution Module Error Codes
	CodeInsufficientGas      ErrorCode = 1
	CodeTransferUnowned      ErrorCode = 2
	CodeMoveAbort            ErrorCode = 3
	CodeFunctionNotFound     ErrorCode = 4
	CodeModuleNotFound       ErrorCode = 5
	CodeInvalidPureArgument  ErrorCode = 6
	CodeObjectArgNotFound    ErrorCode = 7
	CodeInvalidObjectType    ErrorCode = 8
	CodeEmptyPublish         ErrorCode = 9
	CodeDuplicateModule      ErrorCode = 10
	CodeInvalidGasObject     ErrorCode = 11
	CodeTransferPackage      ErrorCode = 12
	CodeImmutableObjectWrite ErrorCode = 13
	CodeTypeArguments        ErrorCode = 14

	// Authority Module
	AuthorityModule ErrorModule = "authority"

	// Authority Module Error Codes
	CodeObjectNotFound           ErrorCode = 1
	CodeUnexpectedSequenceNumber ErrorCode = 2
	CodeInvalidObjectDigest      ErrorCode = 3
	CodeIncorrectSigner          ErrorCode = 4
	CodeSharedObjectInput        ErrorCode = 5
	CodeNotAPackage              ErrorCode = 6
	CodeConflictingTransaction   ErrorCode = 7
	CodeTransactionLockMissing   ErrorCode = 8
	CodeGasBalanceTooLow         ErrorCode = 9
	CodeGasBudgetTooHigh         ErrorCode = 10
	CodeGasObjectNotOwned        ErrorCode = 11

	// Aggregator Module
	AggregatorModule ErrorModule = "aggregator"

	// Aggregator Module Error Codes
	CodeQuorumNotReached            ErrorCode = 1
	CodeTooManyIncorrectAuthorities ErrorCode = 2
	CodeMissingAuthorityClient      ErrorCode = 3
	CodeUnexpectedResponse          ErrorCode = 4
	CodeCatchUpFailed               ErrorCode = 5
	CodeCertificateCycle            ErrorCode = 6
	CodeCancelled                   ErrorCode = 7

	// Checkpoint Module
	CheckpointModule ErrorModule = "checkpoint"

	// Checkpoint Module Error Codes
	CodeCheckpointSequence    ErrorCode = 1
	CodeProposalSequence      ErrorCode = 2
	CodeWaypointMismatch      ErrorCode = 3
	CodeDiffBothKnown         ErrorCode = 4
	CodeDiffNoneKnown         ErrorCode = 5
	CodeInvalidWaypointDiff   ErrorCode = 6
	CodeAlreadyCheckpointed   ErrorCode = 7
	CodeInvalidProposal       ErrorCode = 8
	CodeEmptyGlobalCheckpoint ErrorCode = 9

	// RPC Module
	RPCModule ErrorModule = "rpc"

	// RPC Module Error Codes
	CodePostRequest ErrorCode = 1
	CodeNewRequest  ErrorCode = 2
	CodeHttpStatus  ErrorCode = 3
	CodeReadBody    ErrorCode = 4
	CodeServer      ErrorCode = 5
)

// main module errors below

func ErrLog(err error) ErrorI {
	return NewError(CodeLog, MainModule, fmt.Sprintf("log.write() failed with err: %s", err.Error()))
}

func ErrUnmarshal(err error) ErrorI {
	return NewError(CodeUnmarshal, MainModule, fmt.Sprintf("unmarshal() failed with err: %s", err.Error()))
}

func ErrMarshal(err error) ErrorI {
	return NewError(CodeMarshal, MainModule, fmt.Sprintf("marshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("json.unmarshal() failed with err: %s", err.Error()))
}

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("json.marshal() failed with err: %s", err.Error()))
}

func ErrStringToBytes(err error) ErrorI {
	return NewError(CodeStringToBytes, MainModule, fmt.Sprintf("stringToBytes() failed with err: %s", err.Error()))
}

func ErrWrongLength(name string, expected, got int) ErrorI {
	return NewError(CodeWrongLength, MainModule, fmt.Sprintf("%s has length %d, expected %d", name, got, expected))
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("readFile() failed with err: %s", err.Error()))
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("writeFile() failed with err: %s", err.Error()))
}

func ErrInvalidSignature() ErrorI {
	return NewError(CodeInvalidSignature, MainModule, "invalid signature")
}

func ErrInvalidPublicKey(err error) ErrorI {
	return NewError(CodeInvalidPublicKey, MainModule, fmt.Sprintf("invalid public key: %s", err.Error()))
}

func ErrInvalidSender() ErrorI {
	return NewError(CodeInvalidSender, MainModule, "sender address does not match the signing key")
}

func ErrEmptyCommittee() ErrorI {
	return NewError(CodeEmptyCommittee, MainModule, "committee has no authorities")
}

func ErrZeroWeight(name AuthorityName) ErrorI {
	return NewError(CodeZeroWeight, MainModule, fmt.Sprintf("authority %s has zero voting weight", name.ShortString()))
}

func ErrUnknownAuthority(name AuthorityName) ErrorI {
	return NewError(CodeUnknownAuthority, MainModule, fmt.Sprintf("authority %s is not a committee member", name.ShortString()))
}

func ErrDuplicateSigner(name AuthorityName) ErrorI {
	return NewError(CodeDuplicateSigner, MainModule, fmt.Sprintf("authority %s signed more than once", name.ShortString()))
}

func ErrWrongEpoch(expected, got EpochID) ErrorI {
	return NewError(CodeWrongEpoch, MainModule, fmt.Sprintf("wrong epoch, expected %d got %d", expected, got))
}

func ErrCertificateWeight(weight, quorum uint64) ErrorI {
	return NewError(CodeCertificateWeight, MainModule, fmt.Sprintf("certificate weight %d is below the quorum threshold %d", weight, quorum))
}

func ErrEmptyTransaction() ErrorI {
	return NewError(CodeEmptyTransaction, MainModule, "transaction has no operations")
}

func ErrDuplicateInput(id ObjectID) ErrorI {
	return NewError(CodeDuplicateInput, MainModule, fmt.Sprintf("object %s is used more than once as an input", id))
}

// authority module errors live here since stale state detection needs their codes

func ErrObjectNotFound(id ObjectID) ErrorI {
	return NewError(CodeObjectNotFound, AuthorityModule, fmt.Sprintf("object %s not found", id))
}

func ErrUnexpectedSequenceNumber(id ObjectID, expected, given SequenceNumber) ErrorI {
	return NewError(CodeUnexpectedSequenceNumber, AuthorityModule,
		fmt.Sprintf("object %s is at version %d, request refers to version %d", id, expected, given))
}

func ErrInvalidObjectDigest(id ObjectID) ErrorI {
	return NewError(CodeInvalidObjectDigest, AuthorityModule, fmt.Sprintf("object %s digest mismatch", id))
}

func ErrIncorrectSigner(id ObjectID) ErrorI {
	return NewError(CodeIncorrectSigner, AuthorityModule, fmt.Sprintf("object %s is not owned by the sender", id))
}

func ErrSharedObjectInput(id ObjectID) ErrorI {
	return NewError(CodeSharedObjectInput, AuthorityModule, fmt.Sprintf("shared object %s cannot be an input", id))
}

func ErrNotAPackage(id ObjectID) ErrorI {
	return NewError(CodeNotAPackage, AuthorityModule, fmt.Sprintf("object %s is not a package", id))
}

func ErrConflictingTransaction(pending TransactionDigest) ErrorI {
	return NewError(CodeConflictingTransaction, AuthorityModule, fmt.Sprintf("object is locked by transaction %s", pending))
}

func ErrTransactionLockMissing(ref ObjectRef) ErrorI {
	return NewError(CodeTransactionLockMissing, AuthorityModule, fmt.Sprintf("no lock exists for %s", ref))
}

func ErrGasBalanceTooLow(balance, budget uint64) ErrorI {
	return NewError(CodeGasBalanceTooLow, AuthorityModule, fmt.Sprintf("gas balance %d is below the budget %d", balance, budget))
}

func ErrGasBudgetTooHigh(budget, max uint64) ErrorI {
	return NewError(CodeGasBudgetTooHigh, AuthorityModule, fmt.Sprintf("gas budget %d exceeds the maximum %d", budget, max))
}

func ErrGasObjectNotOwned(id ObjectID) ErrorI {
	return NewError(CodeGasObjectNotOwned, AuthorityModule, fmt.Sprintf("gas object %s must be owned by the sender", id))
}
