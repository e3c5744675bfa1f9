package gasbank

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/faas-core/internal/faaserr"
	"github.com/r3e-network/faas-core/internal/store"
)

const (
	accountPrefix     = "ledger/accounts/"
	reservationPrefix = "ledger/reservations/"
)

func accountDBKey(key string) []byte    { return []byte(accountPrefix + key) }
func reservationDBKey(id string) []byte { return []byte(reservationPrefix + id) }
func entryDBKey(accountKey string, seq uint64) []byte {
	return []byte(fmt.Sprintf("ledger/%s/entries/%020d", accountKey, seq))
}
func seqDBKey(accountKey string) []byte { return []byte("ledger/" + accountKey + "/seq") }

// Ledger is the double-entry Gas Bank store of §4.3: writes are serialized
// per account via a per-key mutex; cross-account reads take no lock (§5
// "Gas Bank ledger: writes serialized per account; cross-account reads are
// lock-free").
type Ledger struct {
	db *store.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewLedger wraps db.
func NewLedger(db *store.DB) *Ledger {
	return &Ledger{db: db, locks: make(map[string]*sync.Mutex)}
}

func (l *Ledger) lockFor(accountKey string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.locks[accountKey]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountKey] = m
	}
	return m
}

// GetAccount loads an account's cached state.
func (l *Ledger) GetAccount(blockchain, address string) (*Account, error) {
	return l.getAccount(AccountKey(blockchain, address))
}

func (l *Ledger) getAccount(key string) (*Account, error) {
	b, err := l.db.Get(accountDBKey(key))
	if err != nil {
		return nil, err
	}
	var a Account
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("unmarshal account %s: %w", key, err)
	}
	return &a, nil
}

func (l *Ledger) putAccount(a *Account) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal account %s: %w", a.Key(), err)
	}
	return l.db.Put(accountDBKey(a.Key()), b)
}

func (l *Ledger) nextSeq(accountKey string) (uint64, error) {
	b, err := l.db.Get(seqDBKey(accountKey))
	var seq uint64
	if err == nil {
		seq = binary.BigEndian.Uint64(b) + 1
	} else if err != store.ErrNotFound {
		return 0, err
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, seq)
	if err := l.db.Put(seqDBKey(accountKey), out); err != nil {
		return 0, err
	}
	return seq, nil
}

func (l *Ledger) appendEntry(e Entry) error {
	seq, err := l.nextSeq(e.AccountKey)
	if err != nil {
		return err
	}
	e.Seq = seq
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	return l.db.Put(entryDBKey(e.AccountKey, seq), b)
}

// Deposit credits amount to (blockchain, address), creating the account on
// first deposit (§3: "Created by first deposit").
func (l *Ledger) Deposit(blockchain, address, owner string, feeModel FeeModel, txHash string, amount int64) (*Account, error) {
	if amount <= 0 {
		return nil, faaserr.New(faaserr.InvalidRequest, "deposit amount must be positive")
	}
	key := AccountKey(blockchain, address)
	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	a, err := l.getAccount(key)
	if err == store.ErrNotFound {
		now := time.Now()
		a = &Account{
			Blockchain: blockchain,
			Address:    address,
			Owner:      owner,
			FeeModel:   feeModel,
			Status:     StatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	} else if err != nil {
		return nil, err
	}

	a.Balance += amount
	a.UpdatedAt = time.Now()
	if err := l.appendEntry(Entry{AccountKey: key, Kind: EntryDeposit, Amount: amount, TxHash: txHash, Timestamp: a.UpdatedAt}); err != nil {
		return nil, err
	}
	if err := l.putAccount(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Withdraw debits amount from an account directly (operator-initiated,
// §6 `gasbank.withdraw`), failing with InsufficientFunds if the balance
// cannot cover it.
func (l *Ledger) Withdraw(blockchain, address string, amount int64, dest string) (*Account, error) {
	if amount <= 0 {
		return nil, faaserr.New(faaserr.InvalidRequest, "withdraw amount must be positive")
	}
	key := AccountKey(blockchain, address)
	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	a, err := l.getAccount(key)
	if err != nil {
		return nil, err
	}
	if a.Balance < amount {
		return nil, faaserr.New(faaserr.InsufficientFunds, "withdraw %d exceeds balance %d", amount, a.Balance)
	}
	a.Balance -= amount
	a.UpdatedAt = time.Now()
	if err := l.appendEntry(Entry{AccountKey: key, Kind: EntryWithdraw, Amount: -amount, TxHash: dest, Timestamp: a.UpdatedAt}); err != nil {
		return nil, err
	}
	if err := l.putAccount(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Reserve atomically holds amount against (blockchain, address), preferring
// balance before credit, per §4.3 step 4. The reservation is persisted
// before the caller submits the chain transaction.
func (l *Ledger) Reserve(blockchain, address string, amount int64) (*Reservation, error) {
	if amount < 0 {
		return nil, faaserr.New(faaserr.InvalidRequest, "reservation amount must be non-negative")
	}
	key := AccountKey(blockchain, address)
	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	a, err := l.getAccount(key)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusFrozen {
		return nil, faaserr.New(faaserr.InvalidRequest, "gas bank account %s is frozen", key)
	}
	if a.Available() < amount {
		return nil, faaserr.New(faaserr.InsufficientFunds, "account %s cannot cover reservation of %d", key, amount)
	}

	var fromBalance, fromCredit int64
	if a.Balance >= amount {
		fromBalance = amount
	} else {
		fromBalance = a.Balance
		fromCredit = amount - a.Balance
	}
	a.Balance -= fromBalance
	a.UsedCredit += fromCredit
	a.UpdatedAt = time.Now()

	now := a.UpdatedAt
	res := &Reservation{
		ID:         uuid.NewString(),
		AccountKey: key,
		Reserved:   amount,
		State:      ReservationHeld,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := l.appendEntry(Entry{
		AccountKey: key, Kind: EntryReserve, Amount: -fromBalance, CreditDelta: fromCredit,
		ReservationID: res.ID, Timestamp: now,
	}); err != nil {
		return nil, err
	}
	if err := l.putAccount(a); err != nil {
		return nil, err
	}
	if err := l.putReservation(res); err != nil {
		return nil, err
	}
	return res, nil
}

// BindTxHash records the submission's transaction hash against a Held
// reservation (§4.3 step 5: "Record tx-hash in the reservation").
func (l *Ledger) BindTxHash(reservationID, txHash string) (*Reservation, error) {
	res, err := l.getReservation(reservationID)
	if err != nil {
		return nil, err
	}
	mu := l.lockFor(res.AccountKey)
	mu.Lock()
	defer mu.Unlock()

	res.TxHash = txHash
	res.UpdatedAt = time.Now()
	if err := l.putReservation(res); err != nil {
		return nil, err
	}
	return res, nil
}

// Commit settles a Held reservation against the actual on-chain fee
// (§4.3 step 6): any surplus between reserved and actual is refunded,
// crediting used-credit before balance.
func (l *Ledger) Commit(reservationID string, actual int64) (*Reservation, error) {
	res, err := l.getReservation(reservationID)
	if err != nil {
		return nil, err
	}
	if res.State != ReservationHeld {
		return nil, faaserr.New(faaserr.Internal, "reservation %s is not Held", reservationID)
	}
	mu := l.lockFor(res.AccountKey)
	mu.Lock()
	defer mu.Unlock()

	a, err := l.getAccount(res.AccountKey)
	if err != nil {
		return nil, err
	}
	var refundToCredit, refundToBalance int64
	if actual < res.Reserved {
		refund := res.Reserved - actual
		refundToCredit, refundToBalance = l.refundLocked(a, refund)
	}
	res.State = ReservationCommitted
	res.UpdatedAt = time.Now()
	a.UpdatedAt = res.UpdatedAt

	if err := l.appendEntry(Entry{
		AccountKey: res.AccountKey, Kind: EntryCommit, Amount: refundToBalance, CreditDelta: -refundToCredit,
		ReservationID: res.ID, TxHash: res.TxHash, Timestamp: res.UpdatedAt,
	}); err != nil {
		return nil, err
	}
	if err := l.putAccount(a); err != nil {
		return nil, err
	}
	if err := l.putReservation(res); err != nil {
		return nil, err
	}
	return res, nil
}

// Release returns a Held reservation's full amount to the account, used
// when submission never happened or was cancelled before a tx-hash was
// recorded (§4.3 step 7).
func (l *Ledger) Release(reservationID string) (*Reservation, error) {
	res, err := l.getReservation(reservationID)
	if err != nil {
		return nil, err
	}
	if res.State != ReservationHeld {
		return nil, faaserr.New(faaserr.Internal, "reservation %s is not Held", reservationID)
	}
	mu := l.lockFor(res.AccountKey)
	mu.Lock()
	defer mu.Unlock()

	a, err := l.getAccount(res.AccountKey)
	if err != nil {
		return nil, err
	}
	refundToCredit, refundToBalance := l.refundLocked(a, res.Reserved)
	res.State = ReservationReleased
	res.UpdatedAt = time.Now()
	a.UpdatedAt = res.UpdatedAt

	if err := l.appendEntry(Entry{
		AccountKey: res.AccountKey, Kind: EntryRelease, Amount: refundToBalance, CreditDelta: -refundToCredit,
		ReservationID: res.ID, Timestamp: res.UpdatedAt,
	}); err != nil {
		return nil, err
	}
	if err := l.putAccount(a); err != nil {
		return nil, err
	}
	if err := l.putReservation(res); err != nil {
		return nil, err
	}
	return res, nil
}

// refundLocked applies amount back to a, crediting used-credit first then
// balance (§4.3 step 6: "refund the difference to used_credit first...
// then to balance"). Caller must hold the account's lock. Returns the
// portion applied to each of used-credit and balance, for ledger entries.
func (l *Ledger) refundLocked(a *Account, amount int64) (toCredit, toBalance int64) {
	toCredit = amount
	if toCredit > a.UsedCredit {
		toCredit = a.UsedCredit
	}
	toBalance = amount - toCredit
	a.UsedCredit -= toCredit
	a.Balance += toBalance
	return toCredit, toBalance
}

func (l *Ledger) getReservation(id string) (*Reservation, error) {
	b, err := l.db.Get(reservationDBKey(id))
	if err != nil {
		return nil, err
	}
	var r Reservation
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("unmarshal reservation %s: %w", id, err)
	}
	return &r, nil
}

func (l *Ledger) putReservation(r *Reservation) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reservation %s: %w", r.ID, err)
	}
	return l.db.Put(reservationDBKey(r.ID), b)
}

// Balance returns an account's cached balance.
func (l *Ledger) Balance(blockchain, address string) (int64, error) {
	a, err := l.GetAccount(blockchain, address)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

// Rebuild recomputes every account's balance and used-credit from its
// entry log, discarding the cached Account.Balance/UsedCredit in favor of
// what the ledger actually records (§4.3: "On restart, balances are
// rebuilt from the ledger").
func (l *Ledger) Rebuild() error {
	it := l.db.IteratePrefix([]byte(accountPrefix))
	var keys []string
	for it.Next() {
		var a Account
		if err := json.Unmarshal(it.Value(), &a); err != nil {
			continue
		}
		keys = append(keys, a.Key())
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	for _, key := range keys {
		if err := l.rebuildAccount(key); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) rebuildAccount(key string) error {
	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	a, err := l.getAccount(key)
	if err != nil {
		return err
	}

	it := l.db.IteratePrefix([]byte("ledger/" + key + "/entries/"))
	defer it.Release()

	var balance, usedCredit int64
	for it.Next() {
		var e Entry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			continue
		}
		balance += e.Amount
		usedCredit += e.CreditDelta
	}
	if err := it.Error(); err != nil {
		return err
	}

	a.Balance = balance
	a.UsedCredit = usedCredit
	return l.putAccount(a)
}
