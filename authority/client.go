package authority

import (
	"context"

	"github.com/canopy-network/fastpath/lib"
)

var _ lib.AuthorityAPI = new(LocalClient)

// LocalClient reaches an authority in the same process; requests and responses are passed through the
// codec so neither side can alias the other's memory, as if they had crossed the wire
type LocalClient struct {
	state *State
}

// NewLocalClient() wraps the authority state
func NewLocalClient(state *State) *LocalClient { return &LocalClient{state: state} }

func (c *LocalClient) HandleTransaction(ctx context.Context, tx *lib.Transaction) (*lib.TransactionInfoResponse, lib.ErrorI) {
	return call(ctx, tx, c.state.HandleTransaction)
}

func (c *LocalClient) HandleConfirmationTransaction(ctx context.Context, cert *lib.CertifiedTransaction) (*lib.TransactionInfoResponse, lib.ErrorI) {
	return call(ctx, cert, c.state.HandleConfirmationTransaction)
}

func (c *LocalClient) HandleAccountInfoRequest(ctx context.Context, req *lib.AccountInfoRequest) (*lib.AccountInfoResponse, lib.ErrorI) {
	return call(ctx, req, c.state.HandleAccountInfoRequest)
}

func (c *LocalClient) HandleObjectInfoRequest(ctx context.Context, req *lib.ObjectInfoRequest) (*lib.ObjectInfoResponse, lib.ErrorI) {
	return call(ctx, req, c.state.HandleObjectInfoRequest)
}

func (c *LocalClient) HandleTransactionInfoRequest(ctx context.Context, req *lib.TransactionInfoRequest) (*lib.TransactionInfoResponse, lib.ErrorI) {
	return call(ctx, req, c.state.HandleTransactionInfoRequest)
}

func (c *LocalClient) HandleCheckpointRequest(ctx context.Context, req *lib.CheckpointRequest) (*lib.CheckpointResponse, lib.ErrorI) {
	return call(ctx, req, c.state.HandleCheckpointRequest)
}

// call() copies the request, runs the handler and copies the response back
func call[Req, Resp any](ctx context.Context, req *Req, handler func(context.Context, *Req) (*Resp, lib.ErrorI)) (*Resp, lib.ErrorI) {
	in, err := lib.Copy(req)
	if err != nil {
		return nil, err
	}
	out, err := handler(ctx, in)
	if err != nil {
		return nil, err
	}
	return lib.Copy(out)
}
