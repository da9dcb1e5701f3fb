package esclient

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/golang/glog"

	"github.com/chronolog/esclient/messages"
)

// EventHandler consumes one delivery, link record included when the server
// resolved a link. A returned error terminates the owning subscription.
type EventHandler func(event *ResolvedEvent) error

type subscriptionPhase int

const (
	phaseCatchingUp subscriptionPhase = iota
	phaseReconcilingGap
	phaseLive
	phaseClosed
)

var errSubscriptionClosed = errors.New("subscription closed")

// CatchupSubscription reconciles a historical backlog read with a live event
// tail. Phases are one-directional:
//
//	CatchingUp:     drain every existing event from the start position
//	ReconcilingGap: read the range between the last event handled and the
//	                event number the server had at subscribe confirmation
//	Live:           the pump loop drains server-pushed events in arrival order
//	Closed:         consumer close, server drop, or handler failure
//
// Events pushed by the server before the gap is closed are held in the
// pending queue, not dropped, preserving order across the handover.
type CatchupSubscription struct {
	conn          *Connection
	correlationId Id
	stream        string
	handler       EventHandler

	stateMutex             sync.Mutex
	phase                  subscriptionPhase
	lastEventNumberHandled int64

	queueMutex    sync.Mutex
	pendingEvents []*ResolvedEvent

	// resolved by dispatch with the last event number the server had at
	// confirmation time
	started *completion[int64]

	startedSignal chan struct{}
	errs          chan error
	closeOnce     sync.Once
}

func newCatchupSubscription(
	conn *Connection,
	correlationId Id,
	stream string,
	handler EventHandler,
) *CatchupSubscription {
	return &CatchupSubscription{
		conn:                   conn,
		correlationId:          correlationId,
		stream:                 stream,
		handler:                handler,
		phase:                  phaseCatchingUp,
		lastEventNumberHandled: -1,
		started:                newCompletion[int64](),
		startedSignal:          make(chan struct{}),
		errs:                   make(chan error, 1),
	}
}

func (self *CatchupSubscription) Stream() string {
	return self.stream
}

// Started closes when the subscription hands over to live delivery.
func (self *CatchupSubscription) Started() <-chan struct{} {
	return self.startedSignal
}

// Err carries the subscription's terminal error: a failed handler, a
// server-initiated drop, setup timeout, or connection loss. Failures are
// always attributed here, never to an unrelated caller.
func (self *CatchupSubscription) Err() <-chan error {
	return self.errs
}

func (self *CatchupSubscription) LastEventNumberHandled() int64 {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.lastEventNumberHandled
}

func (self *CatchupSubscription) run(ctx context.Context, fromNumber int64) {
	// catch-up pass: replay everything already on the stream
	_, err := self.conn.readEventsWith(ctx, self.stream, fromNumber, math.MaxInt64, true, self.handleEvent, true)
	if err != nil {
		self.abort(err)
		return
	}

	// ask for the live tail under this subscription's correlation id
	subscribeMessage := &messages.SubscribeToStream{
		EventStreamId:  self.stream,
		ResolveLinkTos: true,
	}
	pkg, err := self.conn.newOperationPackage(CommandSubscribeToStream, self.correlationId, subscribeMessage.Marshal())
	if err != nil {
		self.abort(err)
		return
	}
	self.conn.enqueueSend(pkg)

	timeout := self.conn.settings.SubscriptionTimeout
	timeoutCtx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()
	confirmedLastEventNumber, err := self.started.await(timeoutCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &SubscriptionSetupError{Stream: self.stream, Timeout: timeout}
		}
		self.abort(err)
		return
	}

	// gap pass: events may have been appended between the catch-up read and
	// the point the live subscription became authoritative
	self.setPhase(phaseReconcilingGap)
	lastHandled := self.LastEventNumberHandled()
	if lastHandled < confirmedLastEventNumber {
		_, err := self.conn.readEventsWith(
			ctx,
			self.stream,
			lastHandled+1,
			confirmedLastEventNumber-lastHandled,
			true,
			self.handleEvent,
			true,
		)
		if err != nil {
			self.abort(err)
			return
		}
	}

	self.stateMutex.Lock()
	if self.phase == phaseClosed {
		self.stateMutex.Unlock()
		return
	}
	self.phase = phaseLive
	self.stateMutex.Unlock()
	close(self.startedSignal)
	glog.V(2).Infof("[sub]%s live from %d\n", self.stream, self.LastEventNumberHandled())
}

func (self *CatchupSubscription) abort(err error) {
	if errors.Is(err, errSubscriptionClosed) {
		// closed mid-setup by the consumer or the connection; not a failure
		return
	}
	self.fail(err)
}

// fail delivers the terminal error on the subscription's own error channel
// and closes it.
func (self *CatchupSubscription) fail(err error) {
	select {
	case self.errs <- err:
	default:
	}
	self.Close()
}

// Close is idempotent: the unsubscribe package is sent at most once, and
// event delivery never resumes.
func (self *CatchupSubscription) Close() {
	self.closeOnce.Do(func() {
		self.setPhase(phaseClosed)
		// unblock a setup still waiting on confirmation
		self.started.reject(errSubscriptionClosed)
		self.conn.removeSubscription(self.correlationId)
		self.conn.enqueueSend(NewPackage(CommandUnsubscribeFromStream, self.correlationId, nil))
		glog.V(2).Infof("[sub]%s closed\n", self.stream)
	})
}

func (self *CatchupSubscription) setPhase(phase subscriptionPhase) {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	if self.phase != phaseClosed {
		self.phase = phase
	}
}

func (self *CatchupSubscription) isLive() bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.phase == phaseLive
}

// enqueueEvent is called by dispatch for server-pushed events. Events are
// held until the gap pass completes so the handover preserves order.
func (self *CatchupSubscription) enqueueEvent(event *ResolvedEvent) {
	self.queueMutex.Lock()
	defer self.queueMutex.Unlock()
	self.pendingEvents = append(self.pendingEvents, event)
}

func (self *CatchupSubscription) drainPendingEvents() []*ResolvedEvent {
	self.queueMutex.Lock()
	defer self.queueMutex.Unlock()
	events := self.pendingEvents
	self.pendingEvents = nil
	return events
}

// handlePendingEvents is called by the connection's pump loop each tick.
func (self *CatchupSubscription) handlePendingEvents() {
	if !self.isLive() {
		return
	}
	for _, event := range self.drainPendingEvents() {
		if err := self.handleEvent(event); err != nil {
			// handleEvent already failed the subscription; abandon the rest
			return
		}
	}
}

// handleEvent invokes the consumer callback once per event in non-decreasing
// event-number order. Events at or below the last handled number were
// already delivered by an earlier pass and are skipped.
func (self *CatchupSubscription) handleEvent(event *ResolvedEvent) error {
	eventNumber := event.EventNumber()

	self.stateMutex.Lock()
	if self.phase == phaseClosed {
		self.stateMutex.Unlock()
		return errSubscriptionClosed
	}
	if eventNumber <= self.lastEventNumberHandled {
		self.stateMutex.Unlock()
		return nil
	}
	self.stateMutex.Unlock()

	if err := self.handler(event); err != nil {
		callbackErr := &CallbackError{Cause: err}
		glog.Infof("[sub]%s callback error = %s\n", self.stream, err)
		self.fail(callbackErr)
		return callbackErr
	}

	self.stateMutex.Lock()
	self.lastEventNumberHandled = eventNumber
	self.stateMutex.Unlock()
	return nil
}
