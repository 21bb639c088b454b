package rpc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/canopy-network/fastpath/aggregator"
	"github.com/canopy-network/fastpath/authority"
	"github.com/canopy-network/fastpath/lib"
	"github.com/canopy-network/fastpath/lib/crypto"
	"github.com/canopy-network/fastpath/store"
	"github.com/stretchr/testify/require"
)

const (
	testBalance = 100_000
	testBudget  = 10_000
)

func TestClientServer(t *testing.T) {
	n := newTestAuthorities(t, 1)
	ctx := context.Background()
	client := n.clients[n.states[0].Name].(*Client)
	// status
	status, err := client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, n.states[0].Name, status.Name)
	require.Equal(t, lib.EpochID(1), status.Epoch)
	require.Equal(t, 1, status.CommitteeSize)
	require.Equal(t, SoftwareVersion, status.Version)
	// vote
	tx := n.transfer(0, 1)
	resp, err := client.HandleTransaction(ctx, tx)
	require.NoError(t, err)
	require.NotNil(t, resp.SignedTransaction)
	require.Equal(t, tx.Digest(), resp.SignedTransaction.Digest())
	require.NoError(t, resp.SignedTransaction.Verify(n.committee))
	// a single authority certifies alone
	cert, err := lib.NewSignatureAggregator(tx, n.committee).Append(n.states[0].Name, resp.SignedTransaction.AuthSignature.Signature)
	require.NoError(t, err)
	require.NotNil(t, cert)
	resp, err = client.HandleConfirmationTransaction(ctx, cert)
	require.NoError(t, err)
	require.NotNil(t, resp.SignedEffects)
	require.True(t, resp.SignedEffects.Effects.Status.Success)
	require.NoError(t, resp.SignedEffects.Verify(n.committee))
	// queries
	account, err := client.HandleAccountInfoRequest(ctx, &lib.AccountInfoRequest{Account: n.recipient})
	require.NoError(t, err)
	require.Len(t, account.ObjectIDs, 1)
	require.Equal(t, n.coins[0].ID, account.ObjectIDs[0].ID)
	object, err := client.HandleObjectInfoRequest(ctx, lib.NewLatestObjectInfoRequest(n.coins[0].ID))
	require.NoError(t, err)
	require.Equal(t, lib.SequenceNumber(2), object.RequestedObjectReference.Version)
	require.Equal(t, cert.Digest(), object.ParentCertificate.Digest())
	info, err := client.HandleTransactionInfoRequest(ctx, &lib.TransactionInfoRequest{TransactionDigest: tx.Digest()})
	require.NoError(t, err)
	require.NotNil(t, info.SignedEffects)
	checkpoint, err := client.HandleCheckpointRequest(ctx, &lib.CheckpointRequest{Latest: true})
	require.NoError(t, err)
	require.NoError(t, checkpoint.Proposal.Verify(n.committee))
	require.Equal(t, []lib.TransactionDigest{cert.Digest()}, checkpoint.Proposal.Transactions)
}

func TestClientErrors(t *testing.T) {
	n := newTestAuthorities(t, 1)
	ctx := context.Background()
	client := n.clients[n.states[0].Name].(*Client)
	// an authority error keeps its module and code across the wire
	missing := lib.NewGasCoin(lib.NewObjectID(), n.sender, testBalance)
	tx := lib.NewTransaction(lib.NewTransferData(n.sender, n.recipient, missing.Reference(), n.coins[1].Reference(), testBudget), n.key)
	_, err := client.HandleTransaction(ctx, tx)
	require.True(t, lib.ErrorIs(err, lib.AuthorityModule, lib.CodeObjectNotFound), err)
	require.True(t, lib.IsStaleStateError(err))
	// a body that does not decode
	resp, e := http.Post(client.url(TransactionRouteName), ApplicationCodec, bytes.NewReader([]byte("not a transaction")))
	require.NoError(t, e)
	bz, e := io.ReadAll(resp.Body)
	require.NoError(t, e)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	remote := new(lib.Error)
	require.NoError(t, lib.UnmarshalJSON(bz, remote))
	require.Equal(t, lib.MainModule, remote.EModule)
	// an unreachable authority
	_, err = NewClient("127.0.0.1:1", time.Second).HandleTransaction(ctx, tx)
	require.True(t, lib.ErrorIs(err, lib.RPCModule, lib.CodePostRequest), err)
	// an unknown route
	_, err = post[lib.TransactionInfoResponse](ctx, &Client{rpcURL: client.rpcURL + "/missing"}, TransactionRouteName, tx)
	require.True(t, lib.ErrorIs(err, lib.RPCModule, lib.CodeHttpStatus), err)
}

func TestAggregatorOverRPC(t *testing.T) {
	n := newTestAuthorities(t, 4)
	ctx := context.Background()
	agg := aggregator.NewAuthorityAggregator(n.committee, n.clients, lib.DefaultAggregatorConfig(), nil, lib.NewNullLogger())
	// execute the function call
	cert, err := agg.ProcessTransaction(ctx, n.transfer(0, 1))
	require.NoError(t, err)
	require.NoError(t, cert.Verify(n.committee))
	certified, err := agg.ProcessCertificate(ctx, cert)
	require.NoError(t, err)
	require.True(t, certified.Effects.Status.Success)
	require.GreaterOrEqual(t, len(certified.Signatures), 3)
	owned, failed, err := agg.GetAllOwnedObjects(ctx, n.recipient)
	require.NoError(t, err)
	require.Empty(t, failed)
	require.Len(t, owned, 1)
}

// testAuthorities is a committee of in memory authorities, each behind its own http server
type testAuthorities struct {
	committee *lib.Committee
	states    []*authority.State
	clients   map[lib.AuthorityName]lib.AuthorityAPI
	key       crypto.PrivateKeyI
	sender    lib.Address
	recipient lib.Address
	coins     []*lib.Object
}

func newTestAuthorities(t *testing.T, size int) *testAuthorities {
	key, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	other, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	n := &testAuthorities{
		key:       key,
		sender:    lib.NewAddressFromPublicKey(key.PublicKey()),
		recipient: lib.NewAddressFromPublicKey(other.PublicKey()),
		clients:   make(map[lib.AuthorityName]lib.AuthorityAPI, size),
	}
	genesis := &lib.GenesisConfig{Epoch: 1}
	for i := 0; i < 2; i++ {
		genesis.GasObjects = append(genesis.GasObjects, lib.GenesisGasObject{ID: lib.NewObjectID(), Owner: n.sender, Balance: testBalance})
	}
	n.coins = genesis.Objects()
	keys := make([]crypto.PrivateKeyI, size)
	for i := range keys {
		keys[i], err = crypto.NewBLSPrivateKey()
		require.NoError(t, err)
		genesis.Authorities = append(genesis.Authorities, lib.GenesisAuthority{Name: lib.NewAuthorityName(keys[i].PublicKey()), Weight: 1})
	}
	n.committee, err = genesis.Committee()
	require.NoError(t, err)
	for _, k := range keys {
		db, e := store.NewInMemory(lib.NewNullLogger())
		require.NoError(t, e)
		t.Cleanup(func() { _ = db.Close() })
		s, e := authority.NewState(lib.DefaultConfig(), k, n.committee, db, nil, lib.NewNullLogger())
		require.NoError(t, e)
		require.NoError(t, s.InitGenesis(genesis))
		server := httptest.NewServer(NewServer(s, lib.DefaultRPCConfig(), lib.NewNullLogger()).Handler())
		t.Cleanup(server.Close)
		n.states = append(n.states, s)
		n.clients[s.Name] = NewClient(server.URL, 5*time.Second)
	}
	return n
}

// transfer() signs a transfer of coin i to the recipient paid with coin gas
func (n *testAuthorities) transfer(i, gas int) *lib.Transaction {
	data := lib.NewTransferData(n.sender, n.recipient, n.coins[i].Reference(), n.coins[gas].Reference(), testBudget)
	return lib.NewTransaction(data, n.key)
}
