package metatx

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/faas-core/internal/chain"
	"github.com/r3e-network/faas-core/internal/gasbank"
	"github.com/r3e-network/faas-core/internal/store"
)

type fakePayer struct {
	accounts     map[string]*gasbank.Account
	reservations map[string]*gasbank.Reservation
}

func newFakePayer() *fakePayer {
	return &fakePayer{
		accounts:     map[string]*gasbank.Account{},
		reservations: map[string]*gasbank.Reservation{},
	}
}

func (p *fakePayer) GetAccount(blockchain, address string) (*gasbank.Account, error) {
	a, ok := p.accounts[gasbank.AccountKey(blockchain, address)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (p *fakePayer) Reserve(blockchain, address string, amount int64) (*gasbank.Reservation, error) {
	res := &gasbank.Reservation{ID: uuid.NewString(), AccountKey: gasbank.AccountKey(blockchain, address), Reserved: amount, State: gasbank.ReservationHeld}
	p.reservations[res.ID] = res
	return res, nil
}

func (p *fakePayer) BindTxHash(reservationID, txHash string) (*gasbank.Reservation, error) {
	r := p.reservations[reservationID]
	r.TxHash = txHash
	return r, nil
}

func (p *fakePayer) Commit(reservationID string, actual int64) (*gasbank.Reservation, error) {
	r := p.reservations[reservationID]
	r.State = gasbank.ReservationCommitted
	return r, nil
}

func (p *fakePayer) Release(reservationID string) (*gasbank.Reservation, error) {
	r := p.reservations[reservationID]
	r.State = gasbank.ReservationReleased
	return r, nil
}

type fakeChainSubmitter struct {
	sendErr error
	txHash  string
	tx      *chain.Transaction
	appLog  *chain.ApplicationLog
}

func (c *fakeChainSubmitter) EstimateFee(context.Context, string, string, []interface{}) (uint64, error) {
	return 1000, nil
}
func (c *fakeChainSubmitter) SendRawTransaction(context.Context, string) (string, error) {
	if c.sendErr != nil {
		return "", c.sendErr
	}
	return c.txHash, nil
}
func (c *fakeChainSubmitter) GetApplicationLog(context.Context, string) (*chain.ApplicationLog, error) {
	return c.appLog, nil
}
func (c *fakeChainSubmitter) GetRawTransaction(context.Context, string) (*chain.Transaction, error) {
	return c.tx, nil
}

func signedRequest(t *testing.T, priv *ecdsa.PrivateKey, nonce uint64) Request {
	t.Helper()
	req := Request{
		Blockchain:     "neo3",
		Sender:         crypto.PubkeyToAddress(priv.PublicKey).Hex(),
		TargetContract: "0xcontract",
		Method:         "transfer",
		Calldata:       []byte("signed-script"),
		Nonce:          nonce,
		Deadline:       time.Now().Add(time.Hour),
		SignatureCurve: CurveSecp256k1,
	}
	digest := typedDataDigest(req)
	sig, err := crypto.Sign(digest.Bytes(), priv)
	require.NoError(t, err)
	req.Signature = sig
	return req
}

func TestRelayerSubmitSuccess(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	payer := newFakePayer()
	payer.accounts[gasbank.AccountKey("neo3", "0xcontract")] = &gasbank.Account{
		Blockchain: "neo3", Address: "0xcontract", Balance: 100000,
		FeeModel: gasbank.FeeModel{Kind: gasbank.FeeFree}, Status: gasbank.StatusActive,
	}
	chainClient := &fakeChainSubmitter{
		txHash: "0xtxhash",
		tx:     &chain.Transaction{Hash: "0xtxhash", SysFee: "100", NetFee: "50"},
		appLog: &chain.ApplicationLog{Executions: []struct {
			VMState       string                `json:"vmstate"`
			Notifications []chain.Notification `json:"notifications"`
		}{{VMState: "HALT"}}},
	}

	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	nonces := NewNonceStore(db)
	records := NewRecordStore(db)

	relayer := NewRelayer(payer, chainClient, nonces, records, nil)

	req := signedRequest(t, priv, 1)
	record, err := relayer.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StateOnChain, record.State)
	require.Equal(t, "0xtxhash", record.TxHash)

	current, err := nonces.Current("neo3", req.Sender)
	require.NoError(t, err)
	require.Equal(t, uint64(1), current)
}

func TestRelayerSubmitRejectsBadNonce(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	payer := newFakePayer()
	payer.accounts[gasbank.AccountKey("neo3", "0xcontract")] = &gasbank.Account{
		Blockchain: "neo3", Address: "0xcontract", Balance: 100000,
		FeeModel: gasbank.FeeModel{Kind: gasbank.FeeFree}, Status: gasbank.StatusActive,
	}
	chainClient := &fakeChainSubmitter{}

	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	relayer := NewRelayer(payer, chainClient, NewNonceStore(db), NewRecordStore(db), nil)

	req := signedRequest(t, priv, 5) // should be 1
	_, err = relayer.Submit(context.Background(), req)
	require.Error(t, err)
}

func TestRelayerSubmitReleasesReservationOnSendFailure(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	payer := newFakePayer()
	payer.accounts[gasbank.AccountKey("neo3", "0xcontract")] = &gasbank.Account{
		Blockchain: "neo3", Address: "0xcontract", Balance: 100000,
		FeeModel: gasbank.FeeModel{Kind: gasbank.FeeFree}, Status: gasbank.StatusActive,
	}
	chainClient := &fakeChainSubmitter{sendErr: context.DeadlineExceeded}

	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	relayer := NewRelayer(payer, chainClient, NewNonceStore(db), NewRecordStore(db), nil)

	req := signedRequest(t, priv, 1)
	_, err = relayer.Submit(context.Background(), req)
	require.Error(t, err)

	for _, res := range payer.reservations {
		require.Equal(t, gasbank.ReservationReleased, res.State)
	}
}
