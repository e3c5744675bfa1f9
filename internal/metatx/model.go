// Package metatx implements the Meta-Transaction Relayer of §4.3: it
// validates signed user intents, charges a Gas Bank account through the
// narrow PayerPort, submits the transaction, and reconciles the reserved
// fee against the chain's actual cost.
package metatx

import "time"

// SignatureCurve selects the signing domain a MetaTxRequest was signed
// under (§3).
type SignatureCurve string

const (
	CurveSecp256k1 SignatureCurve = "secp256k1"
	CurveSecp256r1 SignatureCurve = "secp256r1"
)

// State is a MetaTxRequest's lifecycle position (§3: "Submitted ->
// Validating -> (Submitted-to-chain <-> Pending-receipt) -> (Settled |
// Reverted | Expired)").
type State string

const (
	StateSubmitted    State = "Submitted"
	StateValidating   State = "Validating"
	StateOnChain      State = "Submitted-to-chain"
	StatePending      State = "Pending-receipt"
	StateSettled      State = "Settled"
	StateReverted     State = "Reverted"
	StateExpired      State = "Expired"
)

// Request is the MetaTxRequest of §3: a signed user intent to submit a
// contract call on a given blockchain, paid for by a Gas Bank account.
type Request struct {
	ID             string         `json:"id"`
	Blockchain     string         `json:"blockchain"`
	Sender         string         `json:"sender"`
	TargetContract string         `json:"target_contract"`
	Method         string         `json:"method"`
	Args           []interface{}  `json:"args"`
	Calldata       []byte         `json:"calldata"` // raw signed transaction, submitted verbatim via sendrawtransaction
	Nonce          uint64         `json:"nonce"`
	Deadline       time.Time      `json:"deadline"`
	Signature      []byte         `json:"signature"`
	SignatureCurve SignatureCurve `json:"signature_curve"`

	// SenderPays, when true, charges sender's own Gas Bank account instead
	// of one bound to TargetContract (§4.3 step 2).
	SenderPays bool `json:"sender_pays"`
}

// Record is the persisted state of one accepted Request as it moves
// through submission and reconciliation.
type Record struct {
	Request Request `json:"request"`
	State   State   `json:"state"`

	ReservationID string `json:"reservation_id"`
	TxHash        string `json:"tx_hash"`
	ActualFee     int64  `json:"actual_fee"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
