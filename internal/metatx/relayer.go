package metatx

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/r3e-network/faas-core/internal/chain"
	"github.com/r3e-network/faas-core/internal/faaserr"
	"github.com/r3e-network/faas-core/internal/gasbank"
	"github.com/r3e-network/faas-core/internal/store"
)

// PayerPort is the relayer's narrow view of the Gas Bank ledger (DESIGN
// NOTES §9: "the relayer depends on the ledger through a narrow
// PayerPort; the ledger knows nothing of meta-tx"). gasbank.Ledger
// satisfies this structurally; no import cycle is introduced.
type PayerPort interface {
	GetAccount(blockchain, address string) (*gasbank.Account, error)
	Reserve(blockchain, address string, amount int64) (*gasbank.Reservation, error)
	BindTxHash(reservationID, txHash string) (*gasbank.Reservation, error)
	Commit(reservationID string, actual int64) (*gasbank.Reservation, error)
	Release(reservationID string) (*gasbank.Reservation, error)
}

// ChainSubmitter is the relayer's narrow view of the chain RPC client.
type ChainSubmitter interface {
	EstimateFee(ctx context.Context, contract, method string, args []interface{}) (uint64, error)
	SendRawTransaction(ctx context.Context, hex string) (string, error)
	GetApplicationLog(ctx context.Context, hash string) (*chain.ApplicationLog, error)
	GetRawTransaction(ctx context.Context, hash string) (*chain.Transaction, error)
}

const (
	receiptPollBase = 1 * time.Second
	receiptPollCap  = 5 * time.Second
	// receiptTimeout is META_TX_RECEIPT_TIMEOUT (§4.3 step 7): after this the
	// relayer still polls indefinitely but surfaces Pending to callers.
	receiptTimeout = 600 * time.Second
)

// LoadFunc reports current system load in [0,1] for the Dynamic fee model's
// surge factor (§4.3 step 3). A nil LoadFunc is treated as constantly idle.
type LoadFunc func() float64

// Relayer is the Meta-Transaction Relayer of §4.3.
type Relayer struct {
	payer   PayerPort
	chain   ChainSubmitter
	nonces  *NonceStore
	records *RecordStore
	load    LoadFunc
	log     log.Logger
}

// NewRelayer builds a Relayer. load may be nil.
func NewRelayer(payer PayerPort, chainClient ChainSubmitter, nonces *NonceStore, records *RecordStore, load LoadFunc) *Relayer {
	return &Relayer{
		payer:   payer,
		chain:   chainClient,
		nonces:  nonces,
		records: records,
		load:    load,
		log:     log.New("component", "metatx"),
	}
}

func (r *Relayer) currentLoad() float64 {
	if r.load == nil {
		return 0
	}
	return r.load()
}

// Submit validates, charges, and submits req, per §4.3's seven-step
// protocol. The returned Record reflects the state immediately after
// on-chain submission; reconciliation continues in the background.
func (r *Relayer) Submit(ctx context.Context, req Request) (*Record, error) {
	if !req.Deadline.After(time.Now()) {
		return nil, faaserr.New(faaserr.InvalidRequest, "meta-tx deadline has passed")
	}
	if err := VerifySignature(req); err != nil {
		return nil, err
	}

	payerAddress := req.TargetContract
	if req.SenderPays {
		payerAddress = req.Sender
	}
	account, err := r.payer.GetAccount(req.Blockchain, payerAddress)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, faaserr.New(faaserr.InvalidRequest, "no gas bank account bound to %s", payerAddress)
		}
		return nil, err
	}
	if account.Status == gasbank.StatusFrozen {
		return nil, faaserr.New(faaserr.InvalidRequest, "gas bank account %s is frozen", payerAddress)
	}

	unlock := r.nonces.Lock(req.Blockchain, req.Sender)
	defer unlock()

	current, err := r.nonces.Current(req.Blockchain, req.Sender)
	if err != nil {
		return nil, err
	}
	if req.Nonce != current+1 {
		return nil, faaserr.New(faaserr.NonceConflict, "nonce %d is not the strict successor of %d", req.Nonce, current)
	}

	estimate, err := r.chain.EstimateFee(ctx, req.TargetContract, req.Method, req.Args)
	if err != nil {
		return nil, err
	}
	chargeable := gasbank.Chargeable(account.FeeModel, int64(estimate), r.currentLoad())

	reservation, err := r.payer.Reserve(req.Blockchain, payerAddress, chargeable)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record := &Record{
		Request:       req,
		State:         StateValidating,
		ReservationID: reservation.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.records.Put(record); err != nil {
		return nil, err
	}

	txHash, err := r.chain.SendRawTransaction(ctx, hex.EncodeToString(req.Calldata))
	if err != nil {
		// No tx-hash was ever recorded, so the reservation is safe to
		// release and the nonce was never bumped (§4.3 step 5).
		if _, relErr := r.payer.Release(reservation.ID); relErr != nil {
			r.log.Error("failed to release reservation after submission failure", "reservation", reservation.ID, "err", relErr)
		}
		return nil, faaserr.Wrap(faaserr.Upstream, err, "submit meta-tx to chain")
	}

	if _, err := r.payer.BindTxHash(reservation.ID, txHash); err != nil {
		return nil, err
	}
	if err := r.nonces.Advance(req.Blockchain, req.Sender, req.Nonce); err != nil {
		return nil, err
	}

	record.TxHash = txHash
	record.State = StateOnChain
	record.UpdatedAt = time.Now()
	if err := r.records.Put(record); err != nil {
		return nil, err
	}

	go r.reconcile(context.Background(), record.Request.ID)

	return record, nil
}

// Status returns the current Record for a previously submitted request.
func (r *Relayer) Status(id string) (*Record, error) {
	return r.records.Get(id)
}

// NextNonce returns the nonce a new request from sender must use.
func (r *Relayer) NextNonce(blockchain, sender string) (uint64, error) {
	return r.nonces.Next(blockchain, sender)
}

// Cancel releases a pending request's reservation iff no tx-hash has been
// recorded yet; once submitted, it stays Held until the chain resolves
// (§4.3 step 7).
func (r *Relayer) Cancel(id string) error {
	record, err := r.records.Get(id)
	if err != nil {
		return err
	}
	if record.TxHash != "" {
		return faaserr.New(faaserr.InvalidRequest, "meta-tx %s already submitted to chain, cannot cancel", id)
	}
	if _, err := r.payer.Release(record.ReservationID); err != nil {
		return err
	}
	record.State = StateExpired
	record.UpdatedAt = time.Now()
	return r.records.Put(record)
}

// ResumePending restarts reconciliation for every record left On-chain or
// Pending-receipt after a restart.
func (r *Relayer) ResumePending() error {
	pending, err := r.records.ListPending()
	if err != nil {
		return err
	}
	for _, rec := range pending {
		go r.reconcile(context.Background(), rec.Request.ID)
	}
	return nil
}

// reconcile polls for rec's receipt with backoff, settling the
// reservation once the chain resolves (§4.3 steps 6-7).
func (r *Relayer) reconcile(ctx context.Context, id string) {
	record, err := r.records.Get(id)
	if err != nil {
		r.log.Error("reconcile: failed to load record", "id", id, "err", err)
		return
	}

	delay := receiptPollBase
	deadline := time.Now().Add(receiptTimeout)
	for {
		tx, err := r.chain.GetRawTransaction(ctx, record.TxHash)
		if err == nil {
			appLog, logErr := r.chain.GetApplicationLog(ctx, record.TxHash)
			if logErr == nil {
				r.settle(record, tx, appLog)
				return
			}
		}

		if time.Now().After(deadline) {
			record.State = StatePending
			record.UpdatedAt = time.Now()
			if err := r.records.Put(record); err != nil {
				r.log.Error("reconcile: failed to persist Pending state", "id", id, "err", err)
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		delay *= 2
		if delay > receiptPollCap {
			delay = receiptPollCap
		}
	}
}

func (r *Relayer) settle(record *Record, tx *chain.Transaction, appLog *chain.ApplicationLog) {
	actual := actualFee(tx)
	record.ActualFee = actual
	record.UpdatedAt = time.Now()

	halted := true
	for _, ex := range appLog.Executions {
		if ex.VMState != "HALT" {
			halted = false
			break
		}
	}

	if halted {
		if _, err := r.payer.Commit(record.ReservationID, actual); err != nil {
			r.log.Error("reconcile: failed to commit reservation", "id", record.Request.ID, "err", err)
			return
		}
		record.State = StateSettled
	} else {
		// Chain-rejected: gas was still consumed, so the fee stays
		// committed rather than released (§4.3 step 6).
		if _, err := r.payer.Commit(record.ReservationID, actual); err != nil {
			r.log.Error("reconcile: failed to commit reverted reservation", "id", record.Request.ID, "err", err)
			return
		}
		record.State = StateReverted
	}

	if err := r.records.Put(record); err != nil {
		r.log.Error("reconcile: failed to persist settled record", "id", record.Request.ID, "err", err)
	}
}

func actualFee(tx *chain.Transaction) int64 {
	var sysFee, netFee int64
	fmt.Sscanf(tx.SysFee, "%d", &sysFee)
	fmt.Sscanf(tx.NetFee, "%d", &netFee)
	return sysFee + netFee
}
