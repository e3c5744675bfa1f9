// Package gasbank implements the custodial ledger of §3/§4.3: a
// GasBankAccount per (blockchain, address) backed by an append-only
// double-entry ledger, from which the cached balance is always derivable.
package gasbank

import "time"

// Status is a GasBankAccount's operating state.
type Status string

const (
	StatusActive Status = "Active"
	StatusFrozen Status = "Frozen"
)

// FeeModelKind selects how a chargeable fee is derived from a chain fee
// estimate (§4.3 step 3).
type FeeModelKind string

const (
	FeeFixed      FeeModelKind = "Fixed"
	FeePercentage FeeModelKind = "Percentage"
	FeeDynamic    FeeModelKind = "Dynamic"
	FeeFree       FeeModelKind = "Free"
)

// FeeModel is a tagged union over the four fee policies named in §4.3.
// Param means: the fixed amount for Fixed, basis points for Percentage,
// unused for Dynamic and Free.
type FeeModel struct {
	Kind  FeeModelKind
	Param int64
}

// Account is the per-(blockchain, address) GasBankAccount of §3.
type Account struct {
	Blockchain string
	Address    string

	Balance     int64
	CreditLimit int64
	UsedCredit  int64

	FeeModel FeeModel
	Owner    string
	Status   Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key identifies an account by its (blockchain, address) pair, matching
// the `ledger/{blockchain}/{account}/...` key layout of §6.
func (a Account) Key() string { return a.Blockchain + "/" + a.Address }

// AccountKey builds the same identity string without requiring a full
// Account value, for callers that only have the pair.
func AccountKey(blockchain, address string) string { return blockchain + "/" + address }

// Available reports how much this account could still reserve without
// violating the invariant in §3: "balance + (credit-limit - used-credit)
// >= all outstanding reservations".
func (a Account) Available() int64 {
	return a.Balance + (a.CreditLimit - a.UsedCredit)
}

// ReservationState is a FeeReservation's lifecycle position (§3).
type ReservationState string

const (
	ReservationHeld      ReservationState = "Held"
	ReservationCommitted ReservationState = "Committed"
	ReservationReleased  ReservationState = "Released"
)

// Reservation is the FeeReservation of §3: the only mechanism that debits
// an account's balance/credit, created before a chain submission and
// settled once the receipt (or a failure) is known.
type Reservation struct {
	ID         string
	AccountKey string
	Reserved   int64
	TxHash     string
	State      ReservationState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntryKind classifies one append-only ledger entry. The entry log is the
// authoritative record (§4.3: "the ledger is the authoritative double-entry
// record; the account's cached balance is derivable from it").
type EntryKind string

const (
	EntryDeposit  EntryKind = "Deposit"
	EntryWithdraw EntryKind = "Withdraw"
	EntryReserve  EntryKind = "Reserve"
	EntryCommit   EntryKind = "Commit"
	EntryRelease  EntryKind = "Release"
	EntryRefund   EntryKind = "Refund"
)

// Entry is one append-only ledger record.
type Entry struct {
	Seq           uint64
	AccountKey    string
	Kind          EntryKind
	Amount        int64 // signed: positive increases balance, negative decreases it
	CreditDelta   int64 // signed delta applied to used-credit
	ReservationID string
	TxHash        string
	Timestamp     time.Time
}
