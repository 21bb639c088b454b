package aggregator

import (
	"context"
	"sort"
	"testing"

	"github.com/canopy-network/fastpath/authority"
	"github.com/canopy-network/fastpath/execution"
	"github.com/canopy-network/fastpath/lib"
	"github.com/canopy-network/fastpath/lib/crypto"
	"github.com/canopy-network/fastpath/store"
	"github.com/stretchr/testify/require"
)

const (
	testBalance = 100_000
	testBudget  = 10_000
)

func TestProcessTransaction(t *testing.T) {
	c := newTestCommittee(t, 4)
	// authority 0 alone executed a self transfer of coin 0
	cert1 := c.certify(t, c.transfer(t, 0, 1, c.sender, 0), 0, 1, 2)
	c.execute(t, cert1, 0)
	// a follow up spends the outputs only authority 0 knows
	tx2 := c.transfer(t, 0, 1, c.recipient, 0)
	// execute the function call
	cert2, err := c.agg.ProcessTransaction(context.Background(), tx2)
	require.NoError(t, err)
	require.Equal(t, tx2.Digest(), cert2.Digest())
	require.Len(t, cert2.Signatures, 3)
	require.NoError(t, cert2.Verify(c.committee))
	// the sync of the inputs brought every authority to the new versions
	for _, s := range c.states {
		obj, e := s.GetObject(c.coins[0].ID)
		require.NoError(t, e)
		require.Equal(t, lib.SequenceNumber(2), obj.Version)
	}
}

func TestProcessTransactionConflict(t *testing.T) {
	committee, clients, fakes := newTestFakes(t, 4)
	key, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	sender := lib.NewAddressFromPublicKey(key.PublicKey())
	coin := lib.NewGasCoin(lib.NewObjectID(), sender, testBalance)
	gas := lib.NewGasCoin(lib.NewObjectID(), sender, testBalance)
	tx := lib.NewTransaction(lib.NewTransferData(sender, sender, coin.Reference(), gas.Reference(), testBudget), key)
	for i, f := range fakes {
		f := f
		if i < 2 {
			f.onTransaction = func(tx *lib.Transaction) (*lib.TransactionInfoResponse, lib.ErrorI) {
				return &lib.TransactionInfoResponse{SignedTransaction: lib.NewSignedTransaction(tx, 1, f.name, f.key)}, nil
			}
			continue
		}
		f.onTransaction = func(*lib.Transaction) (*lib.TransactionInfoResponse, lib.ErrorI) {
			return nil, lib.ErrConflictingTransaction(lib.TransactionDigest{})
		}
	}
	agg := NewAuthorityAggregator(committee, clients, lib.DefaultAggregatorConfig(), nil, lib.NewNullLogger())
	// execute the function call
	_, e := agg.ProcessTransaction(context.Background(), tx)
	require.True(t, lib.ErrorIs(e, lib.AggregatorModule, lib.CodeQuorumNotReached), e)
}

func TestProcessCertificate(t *testing.T) {
	c := newTestCommittee(t, 4)
	// authority 3 misses the first transfer and is two certificates behind
	cert1 := c.certify(t, c.transfer(t, 0, 1, c.sender, 0), 0, 1, 2)
	c.execute(t, cert1, 0, 1, 2)
	cert2 := c.certify(t, c.transfer(t, 0, 1, c.sender, 0), 0, 1, 2)
	// execute the function call
	certified, err := c.agg.ProcessCertificate(context.Background(), cert2)
	require.NoError(t, err)
	require.True(t, certified.Effects.Status.Success)
	require.Equal(t, cert2.Digest(), certified.Effects.TransactionDigest)
	require.GreaterOrEqual(t, len(certified.Signatures), 3)
	require.True(t, sort.SliceIsSorted(certified.Signatures, func(i, j int) bool {
		return certified.Signatures[i].Authority.Less(certified.Signatures[j].Authority)
	}))
	// the lagging authority replayed both certificates
	obj, err := c.states[3].GetObject(c.coins[0].ID)
	require.NoError(t, err)
	require.Equal(t, lib.SequenceNumber(3), obj.Version)
	latest, err := c.agg.GetLatestSequenceNumber(context.Background(), c.coins[0].ID)
	require.NoError(t, err)
	require.Equal(t, lib.SequenceNumber(3), latest)
	owned, _, err := c.agg.GetAllOwnedObjects(context.Background(), c.sender)
	require.NoError(t, err)
	require.Len(t, owned, len(c.coins))
}

func TestProcessCertificateDivergence(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		honest int
		error  lib.ErrorCode
	}{
		{
			name:   "split effects",
			detail: "two authorities return different effects than the other two",
			honest: 2,
			error:  lib.CodeTooManyIncorrectAuthorities,
		},
		{
			name:   "errors",
			detail: "two authorities fail, leaving a single group short of quorum",
			honest: 0,
			error:  lib.CodeQuorumNotReached,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			committee, clients, fakes := newTestFakes(t, 4)
			key, err := crypto.NewEd25519PrivateKey()
			require.NoError(t, err)
			sender := lib.NewAddressFromPublicKey(key.PublicKey())
			coin := lib.NewGasCoin(lib.NewObjectID(), sender, testBalance)
			gas := lib.NewGasCoin(lib.NewObjectID(), sender, testBalance)
			tx := lib.NewTransaction(lib.NewTransferData(sender, sender, coin.Reference(), gas.Reference(), testBudget), key)
			cert := &lib.CertifiedTransaction{Transaction: *tx, Epoch: 1}
			good := lib.TransactionEffects{Status: lib.NewSuccessStatus(lib.GasCostSummary{ComputationCost: 1}), TransactionDigest: tx.Digest()}
			bad := good
			bad.Status = lib.NewSuccessStatus(lib.GasCostSummary{ComputationCost: 2})
			for i, f := range fakes {
				f, effects := f, good
				switch {
				case i >= 2 && test.honest == 0:
					f.onCertificate = func(*lib.CertifiedTransaction) (*lib.TransactionInfoResponse, lib.ErrorI) {
						return nil, lib.ErrInvalidSignature()
					}
					continue
				case i >= 2:
					effects = bad
				}
				f.onCertificate = func(*lib.CertifiedTransaction) (*lib.TransactionInfoResponse, lib.ErrorI) {
					return &lib.TransactionInfoResponse{SignedEffects: lib.NewSignedTransactionEffects(&effects, 1, f.name, f.key)}, nil
				}
			}
			agg := NewAuthorityAggregator(committee, clients, lib.DefaultAggregatorConfig(), nil, lib.NewNullLogger())
			// execute the function call
			_, e := agg.ProcessCertificate(context.Background(), cert)
			require.True(t, lib.ErrorIs(e, lib.AggregatorModule, test.error), e)
		})
	}
}

func TestGetAllOwnedObjects(t *testing.T) {
	c := newTestCommittee(t, 4)
	ctx := context.Background()
	// execute the function call
	owned, failed, err := c.agg.GetAllOwnedObjects(ctx, c.sender)
	require.NoError(t, err)
	require.Empty(t, failed)
	require.Len(t, owned, len(c.coins))
	for _, names := range owned {
		require.Len(t, names, 4)
	}
	// authority 0 alone moves coin 0 away paying with coin 1
	cert := c.certify(t, c.transfer(t, 0, 1, c.recipient, 0), 0, 1, 2)
	c.execute(t, cert, 0)
	owned, _, err = c.agg.GetAllOwnedObjects(ctx, c.sender)
	require.NoError(t, err)
	// every genesis coin plus the new gas version on authority 0
	require.Len(t, owned, len(c.coins)+1)
	recipient, _, err := c.agg.GetAllOwnedObjects(ctx, c.recipient)
	require.NoError(t, err)
	require.Len(t, recipient, 1)
	// the rest of the committee catches up
	c.execute(t, cert, 1, 2, 3)
	owned, _, err = c.agg.GetAllOwnedObjects(ctx, c.sender)
	require.NoError(t, err)
	require.Len(t, owned, len(c.coins)-1)
	require.True(t, agreed(owned))
}

func TestSyncAllOwnedObjects(t *testing.T) {
	c := newTestCommittee(t, 4)
	ctx := context.Background()
	// authority 0 executed a transfer to the recipient, authority 3 an unrelated self transfer
	cert1 := c.certify(t, c.transfer(t, 0, 1, c.recipient, 0), 0, 1, 2)
	c.execute(t, cert1, 0)
	cert2 := c.certify(t, c.transfer(t, 2, 3, c.sender, 3), 1, 2, 3)
	c.execute(t, cert2, 3)
	owned, _, err := c.agg.GetAllOwnedObjects(ctx, c.sender)
	require.NoError(t, err)
	require.False(t, agreed(owned))
	// execute the function call
	active, deleted, err := c.agg.SyncAllOwnedObjects(ctx, c.sender)
	require.NoError(t, err)
	require.Empty(t, deleted)
	require.Len(t, active, len(c.coins))
	mine := 0
	for _, a := range active {
		if a.Object.Owner.IsOwnedBy(c.sender) {
			mine++
			continue
		}
		// the coin moved away during the sync is returned with its new owner
		require.Equal(t, c.coins[0].ID, a.Object.ID)
		require.True(t, a.Object.Owner.IsOwnedBy(c.recipient))
		require.Equal(t, cert1.Digest(), a.Certificate.Digest())
	}
	require.Equal(t, len(c.coins)-1, mine)
	// every authority now reports the same versions
	owned, failed, err := c.agg.GetAllOwnedObjects(ctx, c.sender)
	require.NoError(t, err)
	require.Empty(t, failed)
	require.Len(t, owned, len(c.coins)-1)
	for _, names := range owned {
		require.Len(t, names, 4)
	}
	// a second sync finds nothing to do
	again, _, err := c.agg.SyncAllOwnedObjects(ctx, c.sender)
	require.NoError(t, err)
	require.Len(t, again, len(c.coins)-1)
}

func TestSyncAllOwnedObjectsDeletion(t *testing.T) {
	c := newTestCommittee(t, 4)
	ctx := context.Background()
	framework, err := c.states[0].GetObject(lib.FrameworkPackageID)
	require.NoError(t, err)
	call := func(function string, objects []lib.ObjectRef, gas int, pure ...[]byte) *lib.Transaction {
		gasObj, e := c.states[0].GetObject(c.coins[gas].ID)
		require.NoError(t, e)
		return lib.NewTransaction(lib.NewMoveCallData(c.sender, framework.Reference(), execution.ObjectBasicsModule,
			function, objects, pure, gasObj.Reference(), testBudget), c.key)
	}
	// every authority holds an object the sender created
	create := c.certify(t, call("create", nil, 0, lib.Uint64ToBytes(7), c.sender[:]), 0, 1, 2)
	c.execute(t, create, 0, 1, 2, 3)
	id := lib.DeriveObjectID(create.Digest(), 0)
	created, err := c.states[0].GetObject(id)
	require.NoError(t, err)
	require.True(t, created.Owner.IsOwnedBy(c.sender))
	// only authorities 0 and 1 executed its deletion
	remove := c.certify(t, call("delete", []lib.ObjectRef{created.Reference()}, 1), 0, 1, 2)
	c.execute(t, remove, 0, 1)
	owned, _, err := c.agg.GetAllOwnedObjects(ctx, c.sender)
	require.NoError(t, err)
	require.Len(t, owned[created.Reference()], 2)
	// execute the function call
	active, deleted, err := c.agg.SyncAllOwnedObjects(ctx, c.sender)
	require.NoError(t, err)
	expected := lib.ObjectRef{ID: id, Version: created.Version + 1, Digest: lib.DeletedObjectDigest}
	require.Len(t, deleted, 1)
	require.Equal(t, expected, deleted[0].Reference)
	require.Equal(t, remove.Digest(), deleted[0].Certificate.Digest())
	require.Len(t, active, len(c.coins))
	for _, a := range active {
		require.NotEqual(t, id, a.Object.ID)
	}
	// the lagging authorities executed the deletion
	versions, _, err := c.agg.GetObjectByID(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Contains(t, versions, expected)
	require.Len(t, versions[expected].Authorities, 4)
	require.Equal(t, remove.Digest(), versions[expected].Parent)
	owned, _, err = c.agg.GetAllOwnedObjects(ctx, c.sender)
	require.NoError(t, err)
	require.Len(t, owned, len(c.coins))
	require.True(t, agreed(owned))
}

func TestSyncAllGivenObjectsMisreporting(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		forge  func(t *testing.T, c *testCommittee) *lib.ObjectInfoResponse
	}{
		{
			name:   "unrelated certificate",
			detail: "a newer version is attributed to a valid certificate that never touched the object",
			forge: func(t *testing.T, c *testCommittee) *lib.ObjectInfoResponse {
				cert := c.certify(t, c.transfer(t, 0, 1, c.sender, 0), 0, 1, 2)
				c.execute(t, cert, 0, 1, 2, 3)
				return forgedVersion(c.coins[2], 50, cert)
			},
		},
		{
			name:   "made up genesis version",
			detail: "a newer version is claimed without a certificate by a single authority",
			forge: func(t *testing.T, c *testCommittee) *lib.ObjectInfoResponse {
				return forgedVersion(c.coins[2], 7, nil)
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := newTestCommittee(t, 4)
			liar := c.states[3].Name
			c.agg.clients[liar] = &misreportingAuthority{
				AuthorityAPI: c.agg.clients[liar],
				id:           c.coins[2].ID,
				resp:         test.forge(t, c),
			}
			// execute the function call
			active, deleted, err := c.agg.SyncAllGivenObjects(context.Background(), []lib.ObjectID{c.coins[2].ID})
			require.NoError(t, err)
			require.Empty(t, deleted)
			// the genesis version the honest authorities hold is kept
			require.Len(t, active, 1)
			require.Equal(t, c.coins[2].Reference(), active[0].Object.Reference())
			require.Nil(t, active[0].Certificate)
			for _, s := range c.states {
				obj, e := s.GetObject(c.coins[2].ID)
				require.NoError(t, e)
				require.Equal(t, lib.ObjectStartVersion, obj.Version)
			}
		})
	}
}

func TestSyncAllGivenObjectsFailedReplay(t *testing.T) {
	c := newTestCommittee(t, 4)
	cert := c.certify(t, c.transfer(t, 0, 1, c.sender, 0), 0, 1, 2)
	c.execute(t, cert, 0, 1, 2)
	// authority 3 lags behind and refuses every certificate
	lagging := c.states[3].Name
	c.agg.clients[lagging] = &refusingAuthority{AuthorityAPI: c.agg.clients[lagging]}
	// execute the function call
	active, deleted, err := c.agg.SyncAllGivenObjects(context.Background(), []lib.ObjectID{c.coins[0].ID})
	require.NoError(t, err)
	require.Empty(t, deleted)
	require.Len(t, active, 1)
	require.Equal(t, lib.SequenceNumber(2), active[0].Object.Version)
	require.Equal(t, cert.Digest(), active[0].Certificate.Digest())
	// the failed replay only leaves the refusing authority behind
	obj, err := c.states[3].GetObject(c.coins[0].ID)
	require.NoError(t, err)
	require.Equal(t, lib.ObjectStartVersion, obj.Version)
}

func TestGetObjectByID(t *testing.T) {
	c := newTestCommittee(t, 4)
	cert := c.certify(t, c.transfer(t, 0, 1, c.sender, 0), 0, 1, 2)
	c.execute(t, cert, 0, 1)
	// execute the function call
	versions, certificates, err := c.agg.GetObjectByID(context.Background(), c.coins[0].ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Len(t, certificates, 1)
	for ref, version := range versions {
		require.Equal(t, ref, version.Object.Reference())
		switch ref.Version {
		case lib.ObjectStartVersion:
			require.Equal(t, lib.GenesisTransactionDigest, version.Parent)
			require.Equal(t, uint64(2), version.Weight)
		default:
			require.Equal(t, cert.Digest(), version.Parent)
			require.Contains(t, version.Authorities, c.states[0].Name)
			require.Contains(t, version.Authorities, c.states[1].Name)
		}
	}
	// an unknown object has no version anywhere
	_, err = c.agg.GetLatestSequenceNumber(context.Background(), lib.NewObjectID())
	require.True(t, lib.ErrorIs(err, lib.AuthorityModule, lib.CodeObjectNotFound), err)
}

func TestReconcileCheckpoint(t *testing.T) {
	c := newTestCommittee(t, 4)
	ctx := context.Background()
	// every authority executed a different subset of two independent certificates
	cert1 := c.certify(t, c.transfer(t, 0, 1, c.recipient, 0), 0, 1, 3)
	cert2 := c.certify(t, c.transfer(t, 2, 3, c.recipient, 3), 0, 2, 3)
	c.execute(t, cert1, 0, 1, 3)
	c.execute(t, cert2, 0, 2, 3)
	// execute the function call
	reconciled, err := c.agg.ReconcileCheckpoint(ctx, true)
	require.NoError(t, err)
	require.Equal(t, uint64(0), reconciled.Global.Sequence())
	require.GreaterOrEqual(t, len(reconciled.Proposals), 3)
	expected := lib.SortedDifference([]lib.TransactionDigest{cert1.Digest(), cert2.Digest()}, nil)
	require.Equal(t, expected, reconciled.Items)
	// finalizing the reconciled items moves every authority to the next checkpoint
	for _, s := range c.states {
		require.NoError(t, s.FinalizeCheckpoint(reconciled.Global.Sequence(), reconciled.Items))
		require.Equal(t, uint64(1), s.Checkpoints().NextCheckpointSequence())
	}
	proposals, err := c.agg.CollectCheckpointProposals(ctx, false)
	require.NoError(t, err)
	for _, p := range proposals {
		require.Equal(t, uint64(1), p.Sequence())
		require.Empty(t, p.Transactions)
	}
}

func TestCollectCheckpointProposalsErrors(t *testing.T) {
	committee, clients, fakes := newTestFakes(t, 4)
	// one authority signs its proposal with the key of another
	for i, f := range fakes {
		f, signer := f, fakes[i]
		if i == 0 {
			signer = fakes[1]
		}
		f.onCheckpoint = func(*lib.CheckpointRequest) (*lib.CheckpointResponse, lib.ErrorI) {
			p, err := lib.NewCheckpointProposal(1, 0, nil, f.name, signer.key)
			return &lib.CheckpointResponse{Proposal: p}, err
		}
	}
	fakes[1].onCheckpoint = nil
	agg := NewAuthorityAggregator(committee, clients, lib.DefaultAggregatorConfig(), nil, lib.NewNullLogger())
	// execute the function call
	_, err := agg.CollectCheckpointProposals(context.Background(), false)
	require.True(t, lib.ErrorIs(err, lib.AggregatorModule, lib.CodeQuorumNotReached), err)
}

// testCommittee is a committee of in memory authorities behind local clients
type testCommittee struct {
	committee *lib.Committee
	states    []*authority.State
	agg       *AuthorityAggregator
	key       crypto.PrivateKeyI
	sender    lib.Address
	recipient lib.Address
	coins     []*lib.Object // owned by the sender
}

// newTestCommittee() creates n equally weighted authorities; the sender owns four gas coins
func newTestCommittee(t *testing.T, n int) *testCommittee {
	key, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	other, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	c := &testCommittee{
		key:       key,
		sender:    lib.NewAddressFromPublicKey(key.PublicKey()),
		recipient: lib.NewAddressFromPublicKey(other.PublicKey()),
	}
	genesis := &lib.GenesisConfig{Epoch: 1}
	for i := 0; i < 4; i++ {
		genesis.GasObjects = append(genesis.GasObjects, lib.GenesisGasObject{ID: lib.NewObjectID(), Owner: c.sender, Balance: testBalance})
	}
	c.coins = genesis.Objects()
	keys := make([]crypto.PrivateKeyI, n)
	for i := range keys {
		keys[i], err = crypto.NewBLSPrivateKey()
		require.NoError(t, err)
		genesis.Authorities = append(genesis.Authorities, lib.GenesisAuthority{Name: lib.NewAuthorityName(keys[i].PublicKey()), Weight: 1})
	}
	c.committee, err = genesis.Committee()
	require.NoError(t, err)
	clients := make(map[lib.AuthorityName]lib.AuthorityAPI, n)
	for _, k := range keys {
		db, e := store.NewInMemory(lib.NewNullLogger())
		require.NoError(t, e)
		t.Cleanup(func() { _ = db.Close() })
		s, e := authority.NewState(lib.DefaultConfig(), k, c.committee, db, nil, lib.NewNullLogger())
		require.NoError(t, e)
		require.NoError(t, s.InitGenesis(genesis))
		c.states = append(c.states, s)
		clients[s.Name] = authority.NewLocalClient(s)
	}
	c.agg = NewAuthorityAggregator(c.committee, clients, lib.DefaultAggregatorConfig(), nil, lib.NewNullLogger())
	return c
}

// transfer() signs a transfer of the sender's coin i paid with coin gas, both at the versions authority at holds
func (c *testCommittee) transfer(t *testing.T, i, gas int, recipient lib.Address, at int) *lib.Transaction {
	t.Helper()
	obj, err := c.states[at].GetObject(c.coins[i].ID)
	require.NoError(t, err)
	gasObj, err := c.states[at].GetObject(c.coins[gas].ID)
	require.NoError(t, err)
	return lib.NewTransaction(lib.NewTransferData(c.sender, recipient, obj.Reference(), gasObj.Reference(), testBudget), c.key)
}

// certify() collects the votes of the listed authorities into a certificate
func (c *testCommittee) certify(t *testing.T, tx *lib.Transaction, voters ...int) (cert *lib.CertifiedTransaction) {
	t.Helper()
	agg := lib.NewSignatureAggregator(tx, c.committee)
	for _, i := range voters {
		resp, err := c.states[i].HandleTransaction(context.Background(), tx)
		require.NoError(t, err)
		certified, err := agg.Append(c.states[i].Name, resp.SignedTransaction.AuthSignature.Signature)
		require.NoError(t, err)
		if certified != nil && cert == nil {
			cert = certified
		}
	}
	require.NotNil(t, cert)
	return
}

// execute() runs the certificate on the listed authorities
func (c *testCommittee) execute(t *testing.T, cert *lib.CertifiedTransaction, on ...int) {
	t.Helper()
	for _, i := range on {
		_, err := c.states[i].HandleConfirmationTransaction(context.Background(), cert)
		require.NoError(t, err)
	}
}

// misreportingAuthority answers latest version lookups of one object with a fixed response
type misreportingAuthority struct {
	lib.AuthorityAPI
	id   lib.ObjectID
	resp *lib.ObjectInfoResponse
}

func (m *misreportingAuthority) HandleObjectInfoRequest(ctx context.Context, req *lib.ObjectInfoRequest) (*lib.ObjectInfoResponse, lib.ErrorI) {
	if req.ObjectID == m.id && req.Version == nil {
		return m.resp, nil
	}
	return m.AuthorityAPI.HandleObjectInfoRequest(ctx, req)
}

// refusingAuthority fails every certificate it is sent
type refusingAuthority struct {
	lib.AuthorityAPI
}

func (r *refusingAuthority) HandleConfirmationTransaction(context.Context, *lib.CertifiedTransaction) (*lib.TransactionInfoResponse, lib.ErrorI) {
	return nil, lib.ErrInvalidSignature()
}

// forgedVersion() reports a copy of the object at a version it never reached
func forgedVersion(o *lib.Object, version lib.SequenceNumber, parent *lib.CertifiedTransaction) *lib.ObjectInfoResponse {
	object := *o
	object.Version = version
	ref := object.Reference()
	return &lib.ObjectInfoResponse{ParentCertificate: parent, RequestedObjectReference: &ref, ObjectAndLock: &lib.ObjectResponse{Object: object}}
}
