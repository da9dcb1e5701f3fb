package esclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/chronolog/esclient/messages"
)

// in-process server speaking the framed wire protocol
type testServer struct {
	t        *testing.T
	listener net.Listener

	// responses returned by the handler are sent back framed
	handler func(pkg *Package) []*Package
	// packages pushed as soon as the client connects
	onConnect func() []*Package

	mutex    sync.Mutex
	conn     net.Conn
	received []*Package

	sendMutex sync.Mutex
}

func newTestServer(t *testing.T, handler func(pkg *Package) []*Package) *testServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	server := &testServer{
		t:        t,
		listener: listener,
		handler:  handler,
	}
	go server.serve()
	t.Cleanup(server.close)
	return server
}

func (self *testServer) settings() *ConnectionSettings {
	settings := DefaultConnectionSettings()
	settings.Host = "127.0.0.1"
	settings.Port = self.listener.Addr().(*net.TCPAddr).Port
	settings.ConnectionName = "test"
	settings.PumpInterval = 2 * time.Millisecond
	return settings
}

func (self *testServer) serve() {
	conn, err := self.listener.Accept()
	if err != nil {
		return
	}
	self.mutex.Lock()
	self.conn = conn
	self.mutex.Unlock()

	if self.onConnect != nil {
		for _, pkg := range self.onConnect() {
			self.send(pkg)
		}
	}

	framer := NewFramer(func(payload []byte) {
		pkg, err := DecodePackage(payload)
		if err != nil {
			return
		}
		self.mutex.Lock()
		self.received = append(self.received, pkg)
		self.mutex.Unlock()
		if self.handler != nil {
			for _, response := range self.handler(pkg) {
				self.send(response)
			}
		}
	})
	buffer := make([]byte, 4096)
	for {
		n, err := conn.Read(buffer)
		if 0 < n {
			if err := framer.Unframe(buffer[0:n]); err != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (self *testServer) send(pkg *Package) {
	data, err := pkg.Encode()
	if err != nil {
		self.t.Errorf("test server encode error = %s", err)
		return
	}
	self.mutex.Lock()
	conn := self.conn
	self.mutex.Unlock()
	if conn == nil {
		return
	}
	self.sendMutex.Lock()
	defer self.sendMutex.Unlock()
	conn.Write(FrameData(data))
}

func (self *testServer) receivedPackages() []*Package {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return append([]*Package{}, self.received...)
}

func (self *testServer) countReceived(command Command) int {
	count := 0
	for _, pkg := range self.receivedPackages() {
		if pkg.Command == command {
			count += 1
		}
	}
	return count
}

func (self *testServer) close() {
	self.listener.Close()
	self.mutex.Lock()
	conn := self.conn
	self.mutex.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func mustConnect(t *testing.T, server *testServer) *Connection {
	conn, err := Connect(context.Background(), server.settings())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func testRecord(stream string, eventNumber int64) *messages.EventRecord {
	return &messages.EventRecord{
		EventStreamId:   stream,
		EventNumber:     eventNumber,
		EventId:         NewId().Bytes(),
		EventType:       "test-event",
		DataContentType: 1,
		Data:            []byte(fmt.Sprintf(`{"n":%d}`, eventNumber)),
		CreatedEpoch:    time.Now().UnixMilli(),
	}
}

// serves a read request against an in-memory stream snapshot
func readResponse(pkg *Package, records []*messages.EventRecord) *Package {
	request, err := messages.UnmarshalReadStreamEvents(pkg.Payload)
	if err != nil {
		return nil
	}
	completed := &messages.ReadStreamEventsCompleted{
		Result:          messages.ReadSuccess,
		NextEventNumber: request.FromEventNumber,
	}
	for _, record := range records {
		if request.FromEventNumber <= record.EventNumber &&
			record.EventNumber < request.FromEventNumber+int64(request.MaxCount) {
			completed.Events = append(completed.Events, &messages.ResolvedIndexedEvent{Event: record})
			completed.NextEventNumber = record.EventNumber + 1
		}
	}
	if 0 < len(records) {
		completed.LastEventNumber = records[len(records)-1].EventNumber
	} else {
		completed.LastEventNumber = -1
	}
	completed.IsEndOfStream = completed.LastEventNumber < completed.NextEventNumber
	return NewPackage(CommandReadStreamEventsForwardCompleted, pkg.CorrelationId, completed.Marshal())
}

func TestConnectionHeartbeat(t *testing.T) {
	heartbeatCorrelationId := NewId()
	server := newTestServer(t, nil)
	server.onConnect = func() []*Package {
		return []*Package{NewPackage(CommandHeartbeatRequest, heartbeatCorrelationId, nil)}
	}

	mustConnect(t, server)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, pkg := range server.receivedPackages() {
			if pkg.Command == CommandHeartbeatResponse {
				// mirrored under the same correlation id
				assert.Equal(t, heartbeatCorrelationId, pkg.CorrelationId)
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no heartbeat response")
}

func TestWriteCorrelation(t *testing.T) {
	// complete n concurrent writes in reverse arrival order and verify each
	// caller gets its own result
	n := 8
	var mutex sync.Mutex
	writes := []*Package{}
	server := newTestServer(t, func(pkg *Package) []*Package {
		if pkg.Command != CommandWriteEvents {
			return nil
		}
		mutex.Lock()
		defer mutex.Unlock()
		writes = append(writes, pkg)
		if len(writes) < n {
			return nil
		}
		responses := []*Package{}
		for i := len(writes) - 1; 0 <= i; i -= 1 {
			request, err := messages.UnmarshalWriteEvents(writes[i].Payload)
			if err != nil {
				continue
			}
			completed := &messages.WriteEventsCompleted{
				Result:           messages.OperationSuccess,
				FirstEventNumber: request.ExpectedVersion + 1,
				LastEventNumber:  request.ExpectedVersion + int64(len(request.Events)),
			}
			responses = append(responses, NewPackage(CommandWriteEventsCompleted, writes[i].CorrelationId, completed.Marshal()))
		}
		return responses
	})

	conn := mustConnect(t, server)

	results := make([]*WriteResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i += 1 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = conn.WriteEvents(
				context.Background(),
				fmt.Sprintf("stream-%d", i),
				int64(i),
				[]*CreateEvent{{
					Id:        NewId(),
					EventType: "test-event",
					IsJson:    true,
					Data:      []byte("{}"),
				}},
			)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i += 1 {
		assert.Equal(t, errs[i], nil)
		assert.Equal(t, int64(i)+1, results[i].FirstEventNumber)
		assert.Equal(t, int64(i)+1, results[i].LastEventNumber)
	}
}

func TestWriteWrongExpectedVersion(t *testing.T) {
	server := newTestServer(t, func(pkg *Package) []*Package {
		if pkg.Command != CommandWriteEvents {
			return nil
		}
		completed := &messages.WriteEventsCompleted{
			Result:  messages.OperationWrongExpectedVersion,
			Message: "expected version 3, stream is at 7",
		}
		return []*Package{NewPackage(CommandWriteEventsCompleted, pkg.CorrelationId, completed.Marshal())}
	})

	conn := mustConnect(t, server)

	result, err := conn.WriteEvents(context.Background(), "orders", 3, []*CreateEvent{{
		Id:        NewId(),
		EventType: "test-event",
		Data:      []byte("{}"),
	}})
	assert.Equal(t, result, nil)

	var protocolErr *ProtocolError
	assert.Equal(t, true, errors.As(err, &protocolErr))
	assert.Equal(t, true, protocolErr.WrongExpectedVersion())
	assert.Equal(t, "expected version 3, stream is at 7", protocolErr.Message)
}

func TestReadPagination(t *testing.T) {
	stream := "orders"
	records := make([]*messages.EventRecord, 100)
	for i := range records {
		records[i] = testRecord(stream, int64(i))
	}

	var mutex sync.Mutex
	readRequests := 0
	server := newTestServer(t, func(pkg *Package) []*Package {
		if pkg.Command != CommandReadStreamEventsForward {
			return nil
		}
		mutex.Lock()
		readRequests += 1
		mutex.Unlock()
		return []*Package{readResponse(pkg, records)}
	})

	settings := server.settings()
	settings.ReadBatchSize = 40
	conn, err := Connect(context.Background(), settings)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(conn.Close)

	events, err := conn.ReadEvents(context.Background(), stream, 0, 1000, false)
	assert.Equal(t, err, nil)
	assert.Equal(t, 100, len(events))
	for i, event := range events {
		assert.Equal(t, int64(i), event.EventNumber)
		assert.Equal(t, stream, event.Stream)
		assert.Equal(t, "test-event", event.EventType)
		assert.Equal(t, true, event.IsJson)
	}

	// two full batches of 40, then a final batch reporting end of stream
	mutex.Lock()
	requests := readRequests
	mutex.Unlock()
	assert.Equal(t, 3, requests)
}

func TestReadCountBound(t *testing.T) {
	stream := "orders"
	records := make([]*messages.EventRecord, 100)
	for i := range records {
		records[i] = testRecord(stream, int64(i))
	}

	server := newTestServer(t, func(pkg *Package) []*Package {
		if pkg.Command != CommandReadStreamEventsForward {
			return nil
		}
		return []*Package{readResponse(pkg, records)}
	})

	conn := mustConnect(t, server)

	// count below the batch size bounds the request
	events, err := conn.ReadEvents(context.Background(), stream, 10, 5, false)
	assert.Equal(t, err, nil)
	assert.Equal(t, 5, len(events))
	assert.Equal(t, int64(10), events[0].EventNumber)
	assert.Equal(t, int64(14), events[4].EventNumber)
}

func TestReadNoStream(t *testing.T) {
	server := newTestServer(t, func(pkg *Package) []*Package {
		if pkg.Command != CommandReadStreamEventsForward {
			return nil
		}
		completed := &messages.ReadStreamEventsCompleted{
			Result:          messages.ReadNoStream,
			NextEventNumber: 0,
			LastEventNumber: -1,
			IsEndOfStream:   true,
		}
		return []*Package{NewPackage(CommandReadStreamEventsForwardCompleted, pkg.CorrelationId, completed.Marshal())}
	})

	conn := mustConnect(t, server)

	events, err := conn.ReadEvents(context.Background(), "no-such-stream", 0, 100, false)
	assert.Equal(t, err, nil)
	assert.Equal(t, 0, len(events))
}

func TestReadFailureResult(t *testing.T) {
	server := newTestServer(t, func(pkg *Package) []*Package {
		if pkg.Command != CommandReadStreamEventsForward {
			return nil
		}
		completed := &messages.ReadStreamEventsCompleted{
			Result: messages.ReadAccessDenied,
			Error:  "not allowed",
		}
		return []*Package{NewPackage(CommandReadStreamEventsForwardCompleted, pkg.CorrelationId, completed.Marshal())}
	})

	conn := mustConnect(t, server)

	_, err := conn.ReadEvents(context.Background(), "secret", 0, 10, false)
	var protocolErr *ProtocolError
	assert.Equal(t, true, errors.As(err, &protocolErr))
	assert.Equal(t, "AccessDenied", protocolErr.Result)
}

func TestCloseFailsPendingOperations(t *testing.T) {
	// the server never answers
	server := newTestServer(t, nil)
	conn := mustConnect(t, server)

	done := make(chan error, 1)
	go func() {
		_, err := conn.WriteEvents(context.Background(), "orders", ExpectedVersionAny, []*CreateEvent{{
			Id:        NewId(),
			EventType: "test-event",
			Data:      []byte("{}"),
		}})
		done <- err
	}()

	// let the write get issued before tearing down
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && server.countReceived(CommandWriteEvents) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Close()

	select {
	case err := <-done:
		var disconnectedErr *DisconnectedError
		assert.Equal(t, true, errors.As(err, &disconnectedErr))
	case <-time.After(2 * time.Second):
		t.Fatal("pending write was not failed on close")
	}
	assert.Equal(t, false, conn.IsConnected())
}

func TestDefaultCredentialsOnOperations(t *testing.T) {
	server := newTestServer(t, func(pkg *Package) []*Package {
		if pkg.Command != CommandWriteEvents {
			return nil
		}
		completed := &messages.WriteEventsCompleted{
			Result: messages.OperationSuccess,
		}
		return []*Package{NewPackage(CommandWriteEventsCompleted, pkg.CorrelationId, completed.Marshal())}
	})

	settings := server.settings()
	settings.DefaultCredentials = &UserCredentials{
		Login:    "admin",
		Password: "changeit",
	}
	conn, err := Connect(context.Background(), settings)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(conn.Close)

	_, err = conn.WriteEvents(context.Background(), "orders", ExpectedVersionAny, []*CreateEvent{{
		Id:        NewId(),
		EventType: "test-event",
		Data:      []byte("{}"),
	}})
	assert.Equal(t, err, nil)

	packages := server.receivedPackages()
	found := false
	for _, pkg := range packages {
		if pkg.Command == CommandWriteEvents {
			found = true
			assert.Equal(t, FlagAuthenticated, pkg.Flags)
			assert.Equal(t, "admin", pkg.Login)
			assert.Equal(t, "changeit", pkg.Password)
		}
	}
	assert.Equal(t, true, found)
}
