package main

import (
	"context"
	"sync"
	"time"

	"github.com/arimnet/arimgo/session"
	"github.com/arimnet/arimgo/store"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

// outboxRescan is how often the outbox is searched for messages an engine
// turned away.
const outboxRescan = time.Minute

// outbox hands queued messages to an engine once each. A message the engine
// rejects is handed over again on a later scan.
type outbox struct {
	mbox   *store.Mailbox
	submit func(ctx context.Context, req session.Request) error

	mu sync.Mutex

	// submitted holds the IDs of pending messages the engine has.
	submitted map[string]struct{}
}

func newOutbox(mbox *store.Mailbox,
	submit func(context.Context, session.Request) error) *outbox {

	return &outbox{
		mbox:      mbox,
		submit:    submit,
		submitted: make(map[string]struct{}),
	}
}

// run scans the outbox on start, whenever a file appears in it and on every
// tick of rescan, until ctx is done.
func (o *outbox) run(ctx context.Context, rescan ticker.Ticker) error {
	if err := o.scan(ctx); err != nil {
		return err
	}

	rescan.Resume()
	defer rescan.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return o.mbox.WatchOutbox(ctx, func(id string) {
			log.Debugf("Outbox message %s appeared", id)
			o.rescan(ctx)
		})
	})

	g.Go(func() error {
		for {
			select {
			case <-rescan.Ticks():
				o.rescan(ctx)

			case <-ctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

func (o *outbox) rescan(ctx context.Context) {
	if err := o.scan(ctx); err != nil {
		log.Errorf("Unable to read outbox: %v", err)
	}
}

// scan submits every pending message the engine does not have yet and
// forgets messages that are no longer pending.
func (o *outbox) scan(ctx context.Context) error {
	msgs, err := o.mbox.Pending("")
	if err != nil {
		return err
	}

	var fresh []store.Message

	o.mu.Lock()
	pending := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		pending[msg.ID] = struct{}{}
		if _, ok := o.submitted[msg.ID]; ok {
			continue
		}
		o.submitted[msg.ID] = struct{}{}
		fresh = append(fresh, msg)
	}
	for id := range o.submitted {
		if _, ok := pending[id]; !ok {
			delete(o.submitted, id)
		}
	}
	o.mu.Unlock()

	for _, msg := range fresh {
		err := o.submit(ctx, session.Request{
			Kind: session.ReqMessage,
			Call: msg.To,
			Data: msg.Body,
			ID:   msg.ID,
		})
		if err != nil {
			log.Debugf("Outbox message %s not submitted: %v", msg.ID,
				err)
			o.forget(msg.ID)
		}
	}

	return nil
}

// rejected is called by the engine for a request it could not queue.
func (o *outbox) rejected(req session.Request) {
	if req.Kind != session.ReqMessage || req.ID == "" {
		return
	}

	log.Infof("Outbox message %s deferred, channel backlog full", req.ID)
	o.forget(req.ID)
}

func (o *outbox) forget(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.submitted, id)
}
