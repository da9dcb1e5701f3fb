package esclient

import (
	"context"
	"math"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"

	"github.com/chronolog/esclient/messages"
)

// Connection owns exactly one live socket and presents request/response and
// streaming operations as awaitable calls.
//
// Two loops run for the life of the connection: a receive loop that feeds raw
// bytes to the framer, and a pump loop that on a fixed interval dispatches
// inbound packages, flushes the outbound queue, and services live catch-up
// subscriptions. Responses are matched to requests by correlation id.
type Connection struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *ConnectionSettings

	stateMutex sync.Mutex
	connected  bool
	conn       net.Conn

	// serializes socket writes so concurrent sends cannot interleave frames
	sendMutex sync.Mutex

	inbound  packageQueue
	outbound packageQueue

	pendingMutex  sync.Mutex
	pendingWrites map[Id]*completion[*messages.WriteEventsCompleted]
	pendingReads  map[Id]*completion[*messages.ReadStreamEventsCompleted]
	subscriptions map[Id]*CatchupSubscription
}

func Connect(ctx context.Context, settings *ConnectionSettings) (*Connection, error) {
	dialer := &net.Dialer{
		Timeout: settings.ConnectTimeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", settings.Address())
	if err != nil {
		return nil, &ReconnectionError{Cause: err}
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	connection := &Connection{
		ctx:           cancelCtx,
		cancel:        cancel,
		settings:      settings,
		connected:     true,
		conn:          conn,
		pendingWrites: map[Id]*completion[*messages.WriteEventsCompleted]{},
		pendingReads:  map[Id]*completion[*messages.ReadStreamEventsCompleted]{},
		subscriptions: map[Id]*CatchupSubscription{},
	}
	go connection.receiveLoop()
	go connection.pumpLoop()
	glog.V(2).Infof("[%s]connected to %s\n", settings.ConnectionName, settings.Address())
	return connection, nil
}

func (self *Connection) IsConnected() bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.connected
}

// Close marks the connection terminally unusable, tears down the socket,
// fails every pending completion, and closes every live subscription.
func (self *Connection) Close() {
	self.closeWithError(&DisconnectedError{})
}

func (self *Connection) closeWithError(cause error) {
	self.stateMutex.Lock()
	if !self.connected {
		self.stateMutex.Unlock()
		return
	}
	self.connected = false
	conn := self.conn
	self.stateMutex.Unlock()

	self.cancel()
	conn.Close()

	self.pendingMutex.Lock()
	writes := maps.Values(self.pendingWrites)
	reads := maps.Values(self.pendingReads)
	subscriptions := maps.Values(self.subscriptions)
	maps.Clear(self.pendingWrites)
	maps.Clear(self.pendingReads)
	self.pendingMutex.Unlock()

	for _, pendingWrite := range writes {
		pendingWrite.reject(cause)
	}
	for _, pendingRead := range reads {
		pendingRead.reject(cause)
	}
	for _, subscription := range subscriptions {
		subscription.fail(cause)
	}
	glog.Infof("[%s]connection closed = %s\n", self.settings.ConnectionName, cause)
}

// receive loop

func (self *Connection) receiveLoop() {
	framer := NewFramerWithMaxPackageSize(self.frameArrived, self.settings.MaxPackageSize)
	buffer := make([]byte, self.settings.ReceiveBufferSize)
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		n, err := self.conn.Read(buffer)
		if 0 < n {
			if err := framer.Unframe(buffer[0:n]); err != nil {
				// framing is fatal: alignment cannot be trusted anymore
				glog.Infof("[r]%s framing error = %s\n", self.settings.ConnectionName, err)
				self.closeWithError(err)
				return
			}
		}
		if err != nil {
			select {
			case <-self.ctx.Done():
			default:
				glog.Infof("[r]%s receive error = %s\n", self.settings.ConnectionName, err)
				self.closeWithError(&ReconnectionError{Cause: err})
			}
			return
		}
	}
}

func (self *Connection) frameArrived(payload []byte) {
	pkg, err := DecodePackage(payload)
	if err != nil {
		glog.Infof("[r]%s drop undecodable package = %s\n", self.settings.ConnectionName, err)
		return
	}
	self.inbound.enqueue(pkg)
}

// pump loop

func (self *Connection) pumpLoop() {
	ticker := time.NewTicker(self.settings.PumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-ticker.C:
			self.pump()
		}
	}
}

func (self *Connection) pump() {
	for _, pkg := range self.inbound.drain() {
		if !self.IsConnected() {
			// tearing down; remaining queued packages are dropped
			return
		}
		self.dispatch(pkg)
	}

	outPackages := self.outbound.drain()
	if 0 < len(outPackages) {
		var wg sync.WaitGroup
		for _, pkg := range outPackages {
			wg.Add(1)
			go func(pkg *Package) {
				defer wg.Done()
				self.send(pkg)
			}(pkg)
		}
		wg.Wait()
	}

	for _, subscription := range self.liveSubscriptions() {
		subscription.handlePendingEvents()
	}
}

func (self *Connection) send(pkg *Package) {
	data, err := pkg.Encode()
	if err != nil {
		// credentials are validated when the package is constructed
		glog.Errorf("[p]%s encode error = %s\n", self.settings.ConnectionName, err)
		return
	}
	framed := FrameData(data)

	self.sendMutex.Lock()
	_, err = self.conn.Write(framed)
	self.sendMutex.Unlock()
	if err != nil {
		glog.Infof("[p]%s send error = %s\n", self.settings.ConnectionName, err)
		self.closeWithError(&ReconnectionError{Cause: err})
	} else {
		glog.V(2).Infof("[p]%s-> %s\n", self.settings.ConnectionName, pkg.Command)
	}
}

func (self *Connection) enqueueSend(pkg *Package) {
	self.outbound.enqueue(pkg)
}

// dispatch routes one inbound package by command code.
func (self *Connection) dispatch(pkg *Package) {
	glog.V(2).Infof("[p]%s<- %s\n", self.settings.ConnectionName, pkg.Command)
	switch pkg.Command {
	case CommandHeartbeatRequest:
		self.enqueueSend(NewPackage(CommandHeartbeatResponse, pkg.CorrelationId, nil))
	case CommandHeartbeatResponse:
		// ignored
	case CommandWriteEventsCompleted:
		self.dispatchWriteCompleted(pkg)
	case CommandReadStreamEventsForwardCompleted:
		self.dispatchReadCompleted(pkg)
	case CommandSubscriptionConfirmation:
		self.dispatchSubscriptionConfirmation(pkg)
	case CommandStreamEventAppeared:
		self.dispatchEventAppeared(pkg)
	case CommandSubscriptionDropped:
		self.dispatchSubscriptionDropped(pkg)
	case CommandBadRequest, CommandNotAuthenticated:
		self.dispatchOperationRejected(pkg)
	default:
		glog.V(2).Infof("[p]%s ignore %s\n", self.settings.ConnectionName, pkg.Command)
	}
}

func (self *Connection) dispatchWriteCompleted(pkg *Package) {
	self.pendingMutex.Lock()
	pendingWrite, ok := self.pendingWrites[pkg.CorrelationId]
	self.pendingMutex.Unlock()
	if !ok {
		glog.V(2).Infof("[p]%s write completed for unknown correlation id %s\n", self.settings.ConnectionName, pkg.CorrelationId)
		return
	}

	completed, err := messages.UnmarshalWriteEventsCompleted(pkg.Payload)
	if err != nil {
		pendingWrite.reject(&ProtocolError{Op: "write", Result: "Unparseable", Message: err.Error()})
		return
	}

	var resolvedOnce bool
	if completed.Result == messages.OperationSuccess {
		resolvedOnce = pendingWrite.resolve(completed)
	} else {
		resolvedOnce = pendingWrite.reject(&ProtocolError{
			Op:      "write",
			Result:  completed.Result.String(),
			Message: completed.Message,
		})
	}
	if !resolvedOnce {
		glog.Errorf("[p]%s write completion resolved twice for %s\n", self.settings.ConnectionName, pkg.CorrelationId)
	}
}

func (self *Connection) dispatchReadCompleted(pkg *Package) {
	self.pendingMutex.Lock()
	pendingRead, ok := self.pendingReads[pkg.CorrelationId]
	self.pendingMutex.Unlock()
	if !ok {
		glog.V(2).Infof("[p]%s read completed for unknown correlation id %s\n", self.settings.ConnectionName, pkg.CorrelationId)
		return
	}

	completed, err := messages.UnmarshalReadStreamEventsCompleted(pkg.Payload)
	if err != nil {
		pendingRead.reject(&ProtocolError{Op: "read", Result: "Unparseable", Message: err.Error()})
		return
	}

	var resolvedOnce bool
	switch completed.Result {
	case messages.ReadSuccess, messages.ReadNoStream:
		resolvedOnce = pendingRead.resolve(completed)
	default:
		resolvedOnce = pendingRead.reject(&ProtocolError{
			Op:      "read",
			Result:  completed.Result.String(),
			Message: completed.Error,
		})
	}
	if !resolvedOnce {
		glog.Errorf("[p]%s read completion resolved twice for %s\n", self.settings.ConnectionName, pkg.CorrelationId)
	}
}

func (self *Connection) dispatchSubscriptionConfirmation(pkg *Package) {
	subscription := self.subscription(pkg.CorrelationId)
	if subscription == nil {
		return
	}
	confirmation, err := messages.UnmarshalSubscriptionConfirmation(pkg.Payload)
	if err != nil {
		subscription.fail(&ProtocolError{Op: "subscribe", Result: "Unparseable", Message: err.Error()})
		return
	}
	if !subscription.started.resolve(confirmation.LastEventNumber) {
		glog.Errorf("[p]%s subscription confirmed twice for %s\n", self.settings.ConnectionName, pkg.CorrelationId)
	}
}

func (self *Connection) dispatchEventAppeared(pkg *Package) {
	subscription := self.subscription(pkg.CorrelationId)
	if subscription == nil {
		// the subscription may have just been closed
		return
	}
	appeared, err := messages.UnmarshalStreamEventAppeared(pkg.Payload)
	if err != nil || appeared.Event == nil {
		glog.Infof("[p]%s drop undecodable event = %s\n", self.settings.ConnectionName, err)
		return
	}
	resolved, err := resolvedEventFromRecords(appeared.Event.Event, appeared.Event.Link)
	if err != nil {
		glog.Infof("[p]%s drop undecodable event = %s\n", self.settings.ConnectionName, err)
		return
	}
	subscription.enqueueEvent(resolved)
}

func (self *Connection) dispatchSubscriptionDropped(pkg *Package) {
	subscription := self.subscription(pkg.CorrelationId)
	if subscription == nil {
		return
	}
	dropped, err := messages.UnmarshalSubscriptionDropped(pkg.Payload)
	reason := "Unknown"
	if err == nil {
		reason = dropped.Reason.String()
	}
	subscription.fail(&SubscriptionDroppedError{
		Stream: subscription.stream,
		Reason: reason,
	})
}

func (self *Connection) dispatchOperationRejected(pkg *Package) {
	protocolErr := &ProtocolError{
		Result:  pkg.Command.String(),
		Message: string(pkg.Payload),
	}

	self.pendingMutex.Lock()
	pendingWrite, writeOk := self.pendingWrites[pkg.CorrelationId]
	pendingRead, readOk := self.pendingReads[pkg.CorrelationId]
	self.pendingMutex.Unlock()

	if writeOk {
		protocolErr.Op = "write"
		pendingWrite.reject(protocolErr)
	} else if readOk {
		protocolErr.Op = "read"
		pendingRead.reject(protocolErr)
	} else if subscription := self.subscription(pkg.CorrelationId); subscription != nil {
		protocolErr.Op = "subscribe"
		subscription.fail(protocolErr)
	}
}

// pending tables

func (self *Connection) subscription(correlationId Id) *CatchupSubscription {
	self.pendingMutex.Lock()
	defer self.pendingMutex.Unlock()
	return self.subscriptions[correlationId]
}

func (self *Connection) liveSubscriptions() []*CatchupSubscription {
	self.pendingMutex.Lock()
	defer self.pendingMutex.Unlock()
	return maps.Values(self.subscriptions)
}

func (self *Connection) removeSubscription(correlationId Id) {
	self.pendingMutex.Lock()
	defer self.pendingMutex.Unlock()
	delete(self.subscriptions, correlationId)
}

func (self *Connection) newOperationPackage(command Command, correlationId Id, payload []byte) (*Package, error) {
	if credentials := self.settings.DefaultCredentials; credentials != nil {
		return NewAuthenticatedPackage(command, correlationId, credentials.Login, credentials.Password, payload)
	}
	return NewPackage(command, correlationId, payload), nil
}

// WriteEvents appends a batch of events to a stream, asserting
// expectedVersion as the stream's current last event number (or one of the
// ExpectedVersion* sentinels). Concurrent calls are independent; ordering
// across writes to one stream is the caller's responsibility, by chaining
// the returned LastEventNumber.
func (self *Connection) WriteEvents(
	ctx context.Context,
	stream string,
	expectedVersion int64,
	events []*CreateEvent,
) (*WriteResult, error) {
	return attempt(self, func() (*WriteResult, error) {
		return self.writeEventsOnce(ctx, stream, expectedVersion, events)
	})
}

func (self *Connection) writeEventsOnce(
	ctx context.Context,
	stream string,
	expectedVersion int64,
	events []*CreateEvent,
) (*WriteResult, error) {
	correlationId := NewId()
	pendingWrite := newCompletion[*messages.WriteEventsCompleted]()

	self.pendingMutex.Lock()
	self.pendingWrites[correlationId] = pendingWrite
	self.pendingMutex.Unlock()
	defer func() {
		self.pendingMutex.Lock()
		delete(self.pendingWrites, correlationId)
		self.pendingMutex.Unlock()
	}()

	newEvents := make([]*messages.NewEvent, len(events))
	for i, event := range events {
		dataContentType := int32(0)
		if event.IsJson {
			dataContentType = 1
		}
		newEvents[i] = &messages.NewEvent{
			EventId:             event.Id.Bytes(),
			EventType:           event.EventType,
			DataContentType:     dataContentType,
			MetadataContentType: 0,
			Data:                event.Data,
			Metadata:            event.Metadata,
		}
	}
	writeMessage := &messages.WriteEvents{
		EventStreamId:   stream,
		ExpectedVersion: expectedVersion,
		Events:          newEvents,
		RequireMaster:   true,
	}

	pkg, err := self.newOperationPackage(CommandWriteEvents, correlationId, writeMessage.Marshal())
	if err != nil {
		return nil, err
	}
	self.enqueueSend(pkg)

	completed, err := pendingWrite.await(ctx)
	if err != nil {
		return nil, err
	}
	return &WriteResult{
		FirstEventNumber: completed.FirstEventNumber,
		LastEventNumber:  completed.LastEventNumber,
	}, nil
}

// ReadEvents reads up to count events forward from fromNumber. A count close
// to the maximum representable range is clamped to read to end of stream.
func (self *Connection) ReadEvents(
	ctx context.Context,
	stream string,
	fromNumber int64,
	count int64,
	resolveLinkTos bool,
) ([]*RecordedEvent, error) {
	return attempt(self, func() ([]*RecordedEvent, error) {
		return self.readEventsWith(ctx, stream, fromNumber, count, resolveLinkTos, nil, false)
	})
}

// readEventsWith paginates in fixed-size batches until the server reports end
// of stream, a batch comes back empty, or count events have been covered.
// onEvent, when set, is invoked synchronously per event in server-returned
// order. discard streams large ranges through the callback without retaining
// results.
func (self *Connection) readEventsWith(
	ctx context.Context,
	stream string,
	fromNumber int64,
	count int64,
	resolveLinkTos bool,
	onEvent EventHandler,
	discard bool,
) ([]*RecordedEvent, error) {
	events := []*RecordedEvent{}
	if count <= 0 {
		return events, nil
	}

	lastEventNumber := fromNumber + count - 1
	if lastEventNumber < fromNumber {
		// overflow: the range cannot exceed the end of the stream anyway
		lastEventNumber = math.MaxInt64
	}

	batchSize := self.settings.ReadBatchSize
	for currentFrom := fromNumber; currentFrom <= lastEventNumber; currentFrom += int64(batchSize) {
		maxCount := int64(batchSize)
		if remaining := lastEventNumber - currentFrom + 1; 0 < remaining && remaining < maxCount {
			maxCount = remaining
		}
		batch, endOfStream, err := self.readEventsBatch(ctx, stream, currentFrom, int32(maxCount), resolveLinkTos, onEvent)
		if err != nil {
			return nil, err
		}
		if !discard {
			events = append(events, batch...)
		}
		if endOfStream || len(batch) == 0 {
			break
		}
	}
	return events, nil
}

func (self *Connection) readEventsBatch(
	ctx context.Context,
	stream string,
	fromNumber int64,
	maxCount int32,
	resolveLinkTos bool,
	onEvent EventHandler,
) ([]*RecordedEvent, bool, error) {
	correlationId := NewId()
	pendingRead := newCompletion[*messages.ReadStreamEventsCompleted]()

	self.pendingMutex.Lock()
	self.pendingReads[correlationId] = pendingRead
	self.pendingMutex.Unlock()
	defer func() {
		self.pendingMutex.Lock()
		delete(self.pendingReads, correlationId)
		self.pendingMutex.Unlock()
	}()

	readMessage := &messages.ReadStreamEvents{
		EventStreamId:   stream,
		FromEventNumber: fromNumber,
		MaxCount:        maxCount,
		ResolveLinkTos:  resolveLinkTos,
		RequireMaster:   false,
	}
	pkg, err := self.newOperationPackage(CommandReadStreamEventsForward, correlationId, readMessage.Marshal())
	if err != nil {
		return nil, false, err
	}
	self.enqueueSend(pkg)

	completed, err := pendingRead.await(ctx)
	if err != nil {
		return nil, false, err
	}

	events := make([]*RecordedEvent, 0, len(completed.Events))
	for _, indexed := range completed.Events {
		resolved, err := resolvedEventFromRecords(indexed.Event, indexed.Link)
		if err != nil {
			return nil, false, &ProtocolError{Op: "read", Result: "Unparseable", Message: err.Error()}
		}
		events = append(events, resolved.Record())
		if onEvent != nil {
			if err := onEvent(resolved); err != nil {
				return nil, false, err
			}
		}
	}
	return events, completed.IsEndOfStream, nil
}

// SubscribeToStreamFrom starts a catch-up subscription: it replays every
// event on the stream from fromNumber, then seamlessly continues with live
// events, delivering each exactly once to the handler in event-number order.
// Setup runs in the background; Started closes on handover to live delivery
// and Err carries the subscription's terminal error, if any.
func (self *Connection) SubscribeToStreamFrom(
	ctx context.Context,
	stream string,
	fromNumber int64,
	handler EventHandler,
) (*CatchupSubscription, error) {
	if !self.IsConnected() {
		return nil, &DisconnectedError{}
	}

	correlationId := NewId()
	subscription := newCatchupSubscription(self, correlationId, stream, handler)

	self.pendingMutex.Lock()
	self.subscriptions[correlationId] = subscription
	self.pendingMutex.Unlock()

	go subscription.run(ctx, fromNumber)
	return subscription, nil
}
