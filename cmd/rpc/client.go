package rpc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/canopy-network/fastpath/lib"
)

var _ lib.AuthorityAPI = new(Client)

// Client talks to the rpc server of one authority; it is the networked AuthorityAPI used by aggregators
type Client struct {
	rpcURL string
	client http.Client
}

// NewClient() creates a client for the authority at the address; the scheme defaults to http
func NewClient(rpcURL string, timeout time.Duration) *Client {
	if !strings.HasPrefix(rpcURL, "http://") && !strings.HasPrefix(rpcURL, "https://") {
		rpcURL = "http://" + rpcURL
	}
	return &Client{rpcURL: strings.TrimSuffix(rpcURL, "/"), client: http.Client{Timeout: timeout}}
}

// NewClients() creates a client for every authority of the genesis
func NewClients(genesis *lib.GenesisConfig, timeout time.Duration) map[lib.AuthorityName]lib.AuthorityAPI {
	clients := make(map[lib.AuthorityName]lib.AuthorityAPI, len(genesis.Authorities))
	for name, address := range genesis.RPCAddresses() {
		clients[name] = NewClient(address, timeout)
	}
	return clients
}

func (c *Client) HandleTransaction(ctx context.Context, tx *lib.Transaction) (*lib.TransactionInfoResponse, lib.ErrorI) {
	return post[lib.TransactionInfoResponse](ctx, c, TransactionRouteName, tx)
}

func (c *Client) HandleConfirmationTransaction(ctx context.Context, cert *lib.CertifiedTransaction) (*lib.TransactionInfoResponse, lib.ErrorI) {
	return post[lib.TransactionInfoResponse](ctx, c, CertificateRouteName, cert)
}

func (c *Client) HandleAccountInfoRequest(ctx context.Context, req *lib.AccountInfoRequest) (*lib.AccountInfoResponse, lib.ErrorI) {
	return post[lib.AccountInfoResponse](ctx, c, AccountInfoRouteName, req)
}

func (c *Client) HandleObjectInfoRequest(ctx context.Context, req *lib.ObjectInfoRequest) (*lib.ObjectInfoResponse, lib.ErrorI) {
	return post[lib.ObjectInfoResponse](ctx, c, ObjectInfoRouteName, req)
}

func (c *Client) HandleTransactionInfoRequest(ctx context.Context, req *lib.TransactionInfoRequest) (*lib.TransactionInfoResponse, lib.ErrorI) {
	return post[lib.TransactionInfoResponse](ctx, c, TransactionInfoRouteName, req)
}

func (c *Client) HandleCheckpointRequest(ctx context.Context, req *lib.CheckpointRequest) (*lib.CheckpointResponse, lib.ErrorI) {
	return post[lib.CheckpointResponse](ctx, c, CheckpointRouteName, req)
}

// Status() queries the status route
func (c *Client) Status(ctx context.Context) (*StatusResponse, lib.ErrorI) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(StatusRouteName), nil)
	if err != nil {
		return nil, ErrNewRequest(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ErrPostRequest(err)
	}
	bz, e := c.read(resp)
	if e != nil {
		return nil, e
	}
	status := new(StatusResponse)
	if e = lib.UnmarshalJSON(bz, status); e != nil {
		return nil, e
	}
	return status, nil
}

// post() sends a codec encoded request and decodes the codec encoded response
func post[Resp any](ctx context.Context, c *Client, routeName string, body any) (*Resp, lib.ErrorI) {
	bz, e := lib.Marshal(body)
	if e != nil {
		return nil, e
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(routeName), bytes.NewReader(bz))
	if err != nil {
		return nil, ErrNewRequest(err)
	}
	req.Header.Set(ContentType, ApplicationCodec)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ErrPostRequest(err)
	}
	if bz, e = c.read(resp); e != nil {
		return nil, e
	}
	out := new(Resp)
	if e = lib.Unmarshal(bz, out); e != nil {
		return nil, e
	}
	return out, nil
}

// read() drains the response; an authority error is decoded so its module and code survive the trip
func (c *Client) read(resp *http.Response) ([]byte, lib.ErrorI) {
	defer func() { _ = resp.Body.Close() }()
	bz, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrReadBody(err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return bz, nil
	case http.StatusBadRequest:
		remote := new(lib.Error)
		if e := lib.UnmarshalJSON(bz, remote); e == nil && remote.EModule != "" {
			return nil, remote
		}
	}
	return nil, ErrHttpStatus(resp.Status, resp.StatusCode, bz)
}

func (c *Client) url(routeName string) string {
	return c.rpcURL + routePaths[routeName].Path
}
