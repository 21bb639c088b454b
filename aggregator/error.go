package aggregator

import (
	"fmt"

	"github.com/canopy-network/fastpath/lib"
)

func ErrQuorumNotReached(errs []lib.ErrorI) lib.ErrorI {
	return lib.NewError(lib.CodeQuorumNotReached, lib.AggregatorModule, fmt.Sprintf("quorum not reached: %s", lib.JoinErrors(errs)))
}

func ErrTooManyIncorrectAuthorities(errs []lib.ErrorI) lib.ErrorI {
	msg := fmt.Sprintf("too many incorrect authorities: %s", lib.JoinErrors(errs))
	return lib.NewError(lib.CodeTooManyIncorrectAuthorities, lib.AggregatorModule, msg)
}

func ErrMissingAuthorityClient(name lib.AuthorityName) lib.ErrorI {
	msg := fmt.Sprintf("no client for authority %s", name.ShortString())
	return lib.NewError(lib.CodeMissingAuthorityClient, lib.AggregatorModule, msg)
}

func ErrUnexpectedResponse(name lib.AuthorityName, reason string) lib.ErrorI {
	msg := fmt.Sprintf("unexpected response from %s: %s", name.ShortString(), reason)
	return lib.NewError(lib.CodeUnexpectedResponse, lib.AggregatorModule, msg)
}

func ErrCatchUpFailed(digest lib.TransactionDigest, destination lib.AuthorityName) lib.ErrorI {
	msg := fmt.Sprintf("failed to sync certificate %s to %s", digest, destination.ShortString())
	return lib.NewError(lib.CodeCatchUpFailed, lib.AggregatorModule, msg)
}

func ErrCertificateCycle(digest lib.TransactionDigest) lib.ErrorI {
	msg := fmt.Sprintf("certificate %s still fails after its parents were replayed", digest)
	return lib.NewError(lib.CodeCertificateCycle, lib.AggregatorModule, msg)
}

func ErrCancelled(err error) lib.ErrorI {
	return lib.NewError(lib.CodeCancelled, lib.AggregatorModule, fmt.Sprintf("broadcast cancelled: %s", err.Error()))
}
