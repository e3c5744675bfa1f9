package gasbank

import (
	"context"
	"encoding/json"

	"github.com/r3e-network/faas-core/internal/faaserr"
)

// PayRequest is the JSON shape the `gasbank.pay` host call accepts from a
// sandboxed function (§4.2).
type PayRequest struct {
	Blockchain string `json:"blockchain"`
	Address    string `json:"address"`
	Amount     int64  `json:"amount"`
	TxHash     string `json:"tx_hash"`
}

// PayResult is returned to the calling function on success.
type PayResult struct {
	ReservationID string `json:"reservation_id"`
	Reserved      int64  `json:"reserved"`
}

// Service adapts Ledger to the sandbox.GasBankPort host-API port: it
// decodes the untyped `tx` argument handed up from JS, reserves the
// requested amount, and immediately commits it (the direct gasbank.pay
// path has no separate chain-submission step of its own to reconcile
// against, unlike the Meta-Tx Relayer's Reserve/Commit split).
type Service struct {
	Ledger *Ledger
}

// NewService builds the sandbox-facing Gas Bank adapter.
func NewService(ledger *Ledger) *Service { return &Service{Ledger: ledger} }

// Pay implements sandbox.GasBankPort.
func (s *Service) Pay(_ context.Context, tx interface{}) (interface{}, error) {
	raw, err := json.Marshal(tx)
	if err != nil {
		return nil, faaserr.Wrap(faaserr.InvalidRequest, err, "encode gasbank.pay argument")
	}
	var req PayRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, faaserr.Wrap(faaserr.InvalidRequest, err, "decode gasbank.pay argument")
	}
	if req.Blockchain == "" || req.Address == "" {
		return nil, faaserr.New(faaserr.InvalidRequest, "gasbank.pay requires blockchain and address")
	}

	res, err := s.Ledger.Reserve(req.Blockchain, req.Address, req.Amount)
	if err != nil {
		return nil, err
	}
	if req.TxHash != "" {
		if _, err := s.Ledger.BindTxHash(res.ID, req.TxHash); err != nil {
			return nil, err
		}
	}
	if _, err := s.Ledger.Commit(res.ID, req.Amount); err != nil {
		return nil, err
	}
	return PayResult{ReservationID: res.ID, Reserved: req.Amount}, nil
}
