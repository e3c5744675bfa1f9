package ingest

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/r3e-network/faas-core/internal/chain"
	"github.com/r3e-network/faas-core/internal/faaserr"
	"github.com/r3e-network/faas-core/internal/store"
)

// DefaultWindow is the default W bound on heights processed per tick (§4.1).
const DefaultWindow = 16

// Follower maintains the logical chain position and produces Tasks from
// newly observed blocks. One Follower instance is the single writer for its
// chain identifier (§5).
type Follower struct {
	chainID string
	client  *chain.Client
	router  *Router

	pos      *store.FollowerStore
	hashes   *store.BlockHashStore
	taskIdx  *store.HeightTaskIndex
	taskSt   *store.TaskStore

	window        uint32
	maxReorgDepth uint32

	log log.Logger

	// Halted is set when a reorg exceeds maxReorgDepth (§4.1: "ingestion
	// halts and raises a fatal alert"). While set, Tick does no work and
	// returns an Internal error wrapping HaltErr.
	Halted bool
	HaltErr error
}

// NewFollower constructs a Follower for chainID.
func NewFollower(chainID string, client *chain.Client, router *Router, db *store.DB, window, maxReorgDepth uint32) *Follower {
	if window == 0 {
		window = DefaultWindow
	}
	return &Follower{
		chainID:       chainID,
		client:        client,
		router:        router,
		pos:           store.NewFollowerStore(db),
		hashes:        store.NewBlockHashStore(db, chainID),
		taskIdx:       store.NewHeightTaskIndex(db, chainID),
		taskSt:        store.NewTaskStore(db),
		window:        window,
		maxReorgDepth: maxReorgDepth,
		log:           log.New("component", "ingest", "chain", chainID),
	}
}

// Tick runs one ingestion cycle. It is idempotent: re-running it after a
// crash re-derives and re-enqueues at most the events of the still-uncommitted
// tail (at-least-once, per §1 Non-goals and §7).
func (f *Follower) Tick(ctx context.Context) error {
	if f.Halted {
		return faaserr.Wrap(faaserr.Internal, f.HaltErr, "ingestion halted, operator intervention required")
	}

	head, err := f.client.GetBlockCount(ctx)
	if err != nil {
		return err
	}

	cur, err := f.pos.Get(f.chainID)
	if err != nil {
		return err
	}

	end := cur.Height + f.window
	if head > 0 && head-1 < end {
		end = head - 1
	}
	if cur.Height != 0 && end <= cur.Height {
		return nil // nothing new
	}
	if cur.Height == 0 && cur.Hash == "" && end > head {
		end = head
	}

	for h := cur.Height + 1; h <= end; h++ {
		b, err := f.client.GetBlock(ctx, h)
		if err != nil {
			return err
		}

		if h > 1 {
			expectedParent, err := f.hashes.Get(h - 1)
			if err == nil && expectedParent != "" && expectedParent != b.PrevBlockHash {
				if err := f.handleReorg(ctx, h); err != nil {
					return err
				}
				return f.Tick(ctx) // restart from the rewound position
			}
		}

		if err := f.processBlock(ctx, h, b); err != nil {
			return err
		}
	}
	return nil
}

// processBlock synthesizes events for block h, dispatches them to matching
// subscriptions, and only then commits last-processed-height (§4.1: "commits
// ... only after every event derived from block h has been durably enqueued").
func (f *Follower) processBlock(ctx context.Context, h uint32, b *chain.Block) error {
	logs := map[string]*chain.ApplicationLog{}
	for _, tx := range b.Transactions {
		l, err := f.client.GetApplicationLog(ctx, tx.Hash)
		if err != nil {
			return err
		}
		logs[tx.Hash] = l
	}

	events := eventsForBlock(h, b, logs)
	var allTaskIDs []string
	for _, ev := range events {
		ids, err := f.router.dispatch(ev)
		if err != nil {
			return err
		}
		allTaskIDs = append(allTaskIDs, ids...)
	}

	if err := f.taskIdx.Record(h, allTaskIDs); err != nil {
		return err
	}
	if err := f.hashes.Set(h, b.Hash); err != nil {
		return err
	}
	if err := f.pos.Commit(f.chainID, store.FollowerPosition{Height: h, Hash: b.Hash}); err != nil {
		return err
	}
	f.log.Info("processed block", "height", h, "hash", b.Hash, "events", len(events), "tasks", len(allTaskIDs))
	return nil
}

// handleReorg is invoked when block h's parent-hash does not match the
// stored hash of h-1. It searches backward, bounded by maxReorgDepth, for
// the deepest common ancestor, invalidates not-yet-started tasks from the
// abandoned heights, and rewinds the follower position so Tick re-derives
// events on the new branch (§4.1).
func (f *Follower) handleReorg(ctx context.Context, mismatchHeight uint32) error {
	f.log.Warn("reorg detected", "height", mismatchHeight)

	ancestor := mismatchHeight - 1
	depth := uint32(0)
	for depth < f.maxReorgDepth && ancestor > 0 {
		localHash, err := f.hashes.Get(ancestor)
		if err != nil {
			break
		}
		remote, err := f.client.GetBlockByHash(ctx, localHash)
		if err == nil && remote.Hash == localHash {
			break // ancestor still canonical on the remote chain
		}
		ancestor--
		depth++
	}
	if depth >= f.maxReorgDepth {
		f.Halted = true
		f.HaltErr = faaserr.New(faaserr.Internal, "reorg exceeds MAX_REORG_DEPTH=%d at height %d", f.maxReorgDepth, mismatchHeight)
		f.log.Crit("reorg exceeds maximum tolerated depth, halting ingestion", "depth", f.maxReorgDepth, "height", mismatchHeight)
		return f.HaltErr
	}

	cur, err := f.pos.Get(f.chainID)
	if err != nil {
		return err
	}
	for h := cur.Height; h > ancestor; h-- {
		ids, _ := f.taskIdx.Get(h)
		for _, id := range ids {
			if _, err := f.taskSt.Supersede(id); err != nil && err != store.ErrStalePrecondition {
				f.log.Warn("failed to supersede task during reorg", "task", id, "err", err)
			} else if err == store.ErrStalePrecondition {
				// already Running or terminal: mark the eventual result superseded instead.
				_ = f.taskSt.MarkResultSuperseded(id)
			}
		}
		_ = f.taskIdx.Delete(h)
		_ = f.hashes.Delete(h)
	}

	ancestorHash, err := f.hashes.Get(ancestor)
	if err != nil {
		ancestorHash = ""
	}
	if err := f.pos.Commit(f.chainID, store.FollowerPosition{Height: ancestor, Hash: ancestorHash}); err != nil {
		return err
	}
	f.log.Info("reorg rewound", "to_height", ancestor, "depth", depth)
	return nil
}
