package ingest

import (
	"github.com/r3e-network/faas-core/internal/chain"
	"github.com/r3e-network/faas-core/internal/faas"
)

// Event is one typed occurrence produced from chain progression (§4.1):
// NewBlock, NewTransaction, or ContractNotification. Events are produced in
// (height, tx-index, notification-index) lexicographic order.
type Event struct {
	Kind               faas.TriggerKindTag
	Height             uint32
	TxIndex            int
	NotificationIndex  int
	Block              *chain.Block
	Transaction        *chain.Transaction
	Notification       *chain.Notification
}

// Fields flattens the event into the dotted field map TriggerSubscription.Matches
// evaluates filters against.
func (e Event) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"height": float64(e.Height),
	}
	if e.Block != nil {
		f["block.hash"] = e.Block.Hash
		f["block.prev_hash"] = e.Block.PrevBlockHash
		f["block.time"] = float64(e.Block.Time)
	}
	if e.Transaction != nil {
		f["tx.hash"] = e.Transaction.Hash
		f["tx.sender"] = e.Transaction.Sender
	}
	if e.Notification != nil {
		f["contract_hash"] = e.Notification.Contract
		f["event_name"] = e.Notification.EventName
		f["notification.state"] = e.Notification.State
	}
	return f
}

// eventsForBlock synthesizes the three event kinds for one block, in the
// required ordering, given its verbose body and per-tx application logs.
func eventsForBlock(height uint32, b *chain.Block, logs map[string]*chain.ApplicationLog) []Event {
	events := []Event{{Kind: faas.KindNewBlock, Height: height, Block: b}}
	for txIdx, tx := range b.Transactions {
		txCopy := tx
		events = append(events, Event{Kind: faas.KindNewTransaction, Height: height, TxIndex: txIdx, Block: b, Transaction: &txCopy})
		appLog, ok := logs[tx.Hash]
		if !ok {
			continue
		}
		for notifIdx, n := range appLog.Notifications() {
			nCopy := n
			events = append(events, Event{
				Kind:              faas.KindContractNotification,
				Height:            height,
				TxIndex:           txIdx,
				NotificationIndex: notifIdx,
				Block:             b,
				Transaction:       &txCopy,
				Notification:      &nCopy,
			})
		}
	}
	return events
}
