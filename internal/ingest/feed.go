package ingest

import "github.com/ethereum/go-ethereum/event"

// Publisher fans out every dispatched Event to external subscribers (e.g. a
// control-plane live-tail endpoint) independent of the trigger-matching
// path, using go-ethereum's event.Feed the same way the teacher lineage
// fans out NewBlock/NewTransaction/log notifications to multiple
// subscribers without coupling the producer to a fixed consumer set.
type Publisher struct {
	feed event.Feed
}

// Subscribe registers ch to receive every Event published from this point
// on. The returned Subscription must be closed by the caller when done.
func (p *Publisher) Subscribe(ch chan<- Event) event.Subscription {
	return p.feed.Subscribe(ch)
}

// publish fans ev out to current subscribers; a no-op when nobody is
// listening (event.Feed.Send returns 0 in that case).
func (p *Publisher) publish(ev Event) {
	p.feed.Send(ev)
}
