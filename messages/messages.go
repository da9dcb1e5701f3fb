// Package messages is the structured-serialization layer for the event log
// protocol: it turns typed request and response objects into protobuf
// wire-format payloads and back. The field numbers and enum values are fixed
// by the server's message schema and must not change.
package messages

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type OperationResult int32

const (
	OperationSuccess              OperationResult = 0
	OperationPrepareTimeout       OperationResult = 1
	OperationCommitTimeout        OperationResult = 2
	OperationForwardTimeout       OperationResult = 3
	OperationWrongExpectedVersion OperationResult = 4
	OperationStreamDeleted        OperationResult = 5
	OperationInvalidTransaction   OperationResult = 6
	OperationAccessDenied         OperationResult = 7
)

func (self OperationResult) String() string {
	switch self {
	case OperationSuccess:
		return "Success"
	case OperationPrepareTimeout:
		return "PrepareTimeout"
	case OperationCommitTimeout:
		return "CommitTimeout"
	case OperationForwardTimeout:
		return "ForwardTimeout"
	case OperationWrongExpectedVersion:
		return "WrongExpectedVersion"
	case OperationStreamDeleted:
		return "StreamDeleted"
	case OperationInvalidTransaction:
		return "InvalidTransaction"
	case OperationAccessDenied:
		return "AccessDenied"
	default:
		return fmt.Sprintf("OperationResult(%d)", int32(self))
	}
}

type ReadStreamResult int32

const (
	ReadSuccess       ReadStreamResult = 0
	ReadNoStream      ReadStreamResult = 1
	ReadStreamDeleted ReadStreamResult = 2
	ReadNotModified   ReadStreamResult = 3
	ReadError         ReadStreamResult = 4
	ReadAccessDenied  ReadStreamResult = 5
)

func (self ReadStreamResult) String() string {
	switch self {
	case ReadSuccess:
		return "Success"
	case ReadNoStream:
		return "NoStream"
	case ReadStreamDeleted:
		return "StreamDeleted"
	case ReadNotModified:
		return "NotModified"
	case ReadError:
		return "Error"
	case ReadAccessDenied:
		return "AccessDenied"
	default:
		return fmt.Sprintf("ReadStreamResult(%d)", int32(self))
	}
}

type DropReason int32

const (
	DropUnsubscribed DropReason = 0
	DropAccessDenied DropReason = 1
	DropNotFound     DropReason = 2
)

func (self DropReason) String() string {
	switch self {
	case DropUnsubscribed:
		return "Unsubscribed"
	case DropAccessDenied:
		return "AccessDenied"
	case DropNotFound:
		return "NotFound"
	default:
		return fmt.Sprintf("DropReason(%d)", int32(self))
	}
}

type NewEvent struct {
	EventId             []byte
	EventType           string
	DataContentType     int32
	MetadataContentType int32
	Data                []byte
	Metadata            []byte
}

type WriteEvents struct {
	EventStreamId   string
	ExpectedVersion int64
	Events          []*NewEvent
	RequireMaster   bool
}

type WriteEventsCompleted struct {
	Result           OperationResult
	Message          string
	FirstEventNumber int64
	LastEventNumber  int64
	PreparePosition  int64
	CommitPosition   int64
}

type ReadStreamEvents struct {
	EventStreamId   string
	FromEventNumber int64
	MaxCount        int32
	ResolveLinkTos  bool
	RequireMaster   bool
}

type ReadStreamEventsCompleted struct {
	Events             []*ResolvedIndexedEvent
	Result             ReadStreamResult
	NextEventNumber    int64
	LastEventNumber    int64
	IsEndOfStream      bool
	LastCommitPosition int64
	Error              string
}

type EventRecord struct {
	EventStreamId       string
	EventNumber         int64
	EventId             []byte
	EventType           string
	DataContentType     int32
	MetadataContentType int32
	Data                []byte
	Metadata            []byte
	Created             int64
	CreatedEpoch        int64
}

type ResolvedIndexedEvent struct {
	Event *EventRecord
	Link  *EventRecord
}

type ResolvedEvent struct {
	Event           *EventRecord
	Link            *EventRecord
	CommitPosition  int64
	PreparePosition int64
}

type SubscribeToStream struct {
	EventStreamId  string
	ResolveLinkTos bool
}

type SubscriptionConfirmation struct {
	LastCommitPosition int64
	LastEventNumber    int64
}

type StreamEventAppeared struct {
	Event *ResolvedEvent
}

type SubscriptionDropped struct {
	Reason DropReason
}

// encoding helpers

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	if v {
		return protowire.AppendVarint(b, 1)
	}
	return protowire.AppendVarint(b, 0)
}

// decoding helpers

type decoder struct {
	b   []byte
	err error
}

func (self *decoder) next() (protowire.Number, protowire.Type, bool) {
	if self.err != nil || len(self.b) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(self.b)
	if n < 0 {
		self.err = protowire.ParseError(n)
		return 0, 0, false
	}
	self.b = self.b[n:]
	return num, typ, true
}

func (self *decoder) skip(num protowire.Number, typ protowire.Type) {
	if self.err != nil {
		return
	}
	n := protowire.ConsumeFieldValue(num, typ, self.b)
	if n < 0 {
		self.err = protowire.ParseError(n)
		return
	}
	self.b = self.b[n:]
}

func (self *decoder) varint() uint64 {
	if self.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(self.b)
	if n < 0 {
		self.err = protowire.ParseError(n)
		return 0
	}
	self.b = self.b[n:]
	return v
}

func (self *decoder) int64() int64 {
	return int64(self.varint())
}

func (self *decoder) int32() int32 {
	return int32(int64(self.varint()))
}

func (self *decoder) bool() bool {
	return self.varint() != 0
}

func (self *decoder) bytes() []byte {
	if self.err != nil {
		return nil
	}
	v, n := protowire.ConsumeBytes(self.b)
	if n < 0 {
		self.err = protowire.ParseError(n)
		return nil
	}
	self.b = self.b[n:]
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (self *decoder) string() string {
	return string(self.bytes())
}

// NewEvent

func (self *NewEvent) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, self.EventId)
	b = appendString(b, 2, self.EventType)
	b = appendInt32(b, 3, self.DataContentType)
	b = appendInt32(b, 4, self.MetadataContentType)
	b = appendBytes(b, 5, self.Data)
	b = appendBytes(b, 6, self.Metadata)
	return b
}

func UnmarshalNewEvent(b []byte) (*NewEvent, error) {
	m := &NewEvent{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.EventId = d.bytes()
		case 2:
			m.EventType = d.string()
		case 3:
			m.DataContentType = d.int32()
		case 4:
			m.MetadataContentType = d.int32()
		case 5:
			m.Data = d.bytes()
		case 6:
			m.Metadata = d.bytes()
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}

// WriteEvents

func (self *WriteEvents) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, self.EventStreamId)
	b = appendInt64(b, 2, self.ExpectedVersion)
	for _, event := range self.Events {
		b = appendBytes(b, 3, event.Marshal())
	}
	b = appendBool(b, 4, self.RequireMaster)
	return b
}

func UnmarshalWriteEvents(b []byte) (*WriteEvents, error) {
	m := &WriteEvents{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.EventStreamId = d.string()
		case 2:
			m.ExpectedVersion = d.int64()
		case 3:
			event, err := UnmarshalNewEvent(d.bytes())
			if err != nil {
				return nil, err
			}
			m.Events = append(m.Events, event)
		case 4:
			m.RequireMaster = d.bool()
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}

// WriteEventsCompleted

func (self *WriteEventsCompleted) Marshal() []byte {
	var b []byte
	b = appendInt32(b, 1, int32(self.Result))
	b = appendString(b, 2, self.Message)
	b = appendInt64(b, 3, self.FirstEventNumber)
	b = appendInt64(b, 4, self.LastEventNumber)
	b = appendInt64(b, 5, self.PreparePosition)
	b = appendInt64(b, 6, self.CommitPosition)
	return b
}

func UnmarshalWriteEventsCompleted(b []byte) (*WriteEventsCompleted, error) {
	m := &WriteEventsCompleted{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.Result = OperationResult(d.int32())
		case 2:
			m.Message = d.string()
		case 3:
			m.FirstEventNumber = d.int64()
		case 4:
			m.LastEventNumber = d.int64()
		case 5:
			m.PreparePosition = d.int64()
		case 6:
			m.CommitPosition = d.int64()
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}

// ReadStreamEvents

func (self *ReadStreamEvents) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, self.EventStreamId)
	b = appendInt64(b, 2, self.FromEventNumber)
	b = appendInt32(b, 3, self.MaxCount)
	b = appendBool(b, 4, self.ResolveLinkTos)
	b = appendBool(b, 5, self.RequireMaster)
	return b
}

func UnmarshalReadStreamEvents(b []byte) (*ReadStreamEvents, error) {
	m := &ReadStreamEvents{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.EventStreamId = d.string()
		case 2:
			m.FromEventNumber = d.int64()
		case 3:
			m.MaxCount = d.int32()
		case 4:
			m.ResolveLinkTos = d.bool()
		case 5:
			m.RequireMaster = d.bool()
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}

// ReadStreamEventsCompleted

func (self *ReadStreamEventsCompleted) Marshal() []byte {
	var b []byte
	for _, event := range self.Events {
		b = appendBytes(b, 1, event.Marshal())
	}
	b = appendInt32(b, 2, int32(self.Result))
	b = appendInt64(b, 3, self.NextEventNumber)
	b = appendInt64(b, 4, self.LastEventNumber)
	b = appendBool(b, 5, self.IsEndOfStream)
	b = appendInt64(b, 6, self.LastCommitPosition)
	b = appendString(b, 7, self.Error)
	return b
}

func UnmarshalReadStreamEventsCompleted(b []byte) (*ReadStreamEventsCompleted, error) {
	m := &ReadStreamEventsCompleted{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			event, err := UnmarshalResolvedIndexedEvent(d.bytes())
			if err != nil {
				return nil, err
			}
			m.Events = append(m.Events, event)
		case 2:
			m.Result = ReadStreamResult(d.int32())
		case 3:
			m.NextEventNumber = d.int64()
		case 4:
			m.LastEventNumber = d.int64()
		case 5:
			m.IsEndOfStream = d.bool()
		case 6:
			m.LastCommitPosition = d.int64()
		case 7:
			m.Error = d.string()
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}

// EventRecord

func (self *EventRecord) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, self.EventStreamId)
	b = appendInt64(b, 2, self.EventNumber)
	b = appendBytes(b, 3, self.EventId)
	b = appendString(b, 4, self.EventType)
	b = appendInt32(b, 5, self.DataContentType)
	b = appendInt32(b, 6, self.MetadataContentType)
	b = appendBytes(b, 7, self.Data)
	b = appendBytes(b, 8, self.Metadata)
	b = appendInt64(b, 9, self.Created)
	b = appendInt64(b, 10, self.CreatedEpoch)
	return b
}

func UnmarshalEventRecord(b []byte) (*EventRecord, error) {
	m := &EventRecord{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.EventStreamId = d.string()
		case 2:
			m.EventNumber = d.int64()
		case 3:
			m.EventId = d.bytes()
		case 4:
			m.EventType = d.string()
		case 5:
			m.DataContentType = d.int32()
		case 6:
			m.MetadataContentType = d.int32()
		case 7:
			m.Data = d.bytes()
		case 8:
			m.Metadata = d.bytes()
		case 9:
			m.Created = d.int64()
		case 10:
			m.CreatedEpoch = d.int64()
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}

// ResolvedIndexedEvent

func (self *ResolvedIndexedEvent) Marshal() []byte {
	var b []byte
	if self.Event != nil {
		b = appendBytes(b, 1, self.Event.Marshal())
	}
	if self.Link != nil {
		b = appendBytes(b, 2, self.Link.Marshal())
	}
	return b
}

func UnmarshalResolvedIndexedEvent(b []byte) (*ResolvedIndexedEvent, error) {
	m := &ResolvedIndexedEvent{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			event, err := UnmarshalEventRecord(d.bytes())
			if err != nil {
				return nil, err
			}
			m.Event = event
		case 2:
			link, err := UnmarshalEventRecord(d.bytes())
			if err != nil {
				return nil, err
			}
			m.Link = link
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}

// ResolvedEvent

func (self *ResolvedEvent) Marshal() []byte {
	var b []byte
	if self.Event != nil {
		b = appendBytes(b, 1, self.Event.Marshal())
	}
	if self.Link != nil {
		b = appendBytes(b, 2, self.Link.Marshal())
	}
	b = appendInt64(b, 3, self.CommitPosition)
	b = appendInt64(b, 4, self.PreparePosition)
	return b
}

func UnmarshalResolvedEvent(b []byte) (*ResolvedEvent, error) {
	m := &ResolvedEvent{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			event, err := UnmarshalEventRecord(d.bytes())
			if err != nil {
				return nil, err
			}
			m.Event = event
		case 2:
			link, err := UnmarshalEventRecord(d.bytes())
			if err != nil {
				return nil, err
			}
			m.Link = link
		case 3:
			m.CommitPosition = d.int64()
		case 4:
			m.PreparePosition = d.int64()
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}

// SubscribeToStream

func (self *SubscribeToStream) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, self.EventStreamId)
	b = appendBool(b, 2, self.ResolveLinkTos)
	return b
}

func UnmarshalSubscribeToStream(b []byte) (*SubscribeToStream, error) {
	m := &SubscribeToStream{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.EventStreamId = d.string()
		case 2:
			m.ResolveLinkTos = d.bool()
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}

// SubscriptionConfirmation

func (self *SubscriptionConfirmation) Marshal() []byte {
	var b []byte
	b = appendInt64(b, 1, self.LastCommitPosition)
	b = appendInt64(b, 2, self.LastEventNumber)
	return b
}

func UnmarshalSubscriptionConfirmation(b []byte) (*SubscriptionConfirmation, error) {
	m := &SubscriptionConfirmation{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.LastCommitPosition = d.int64()
		case 2:
			m.LastEventNumber = d.int64()
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}

// StreamEventAppeared

func (self *StreamEventAppeared) Marshal() []byte {
	var b []byte
	if self.Event != nil {
		b = appendBytes(b, 1, self.Event.Marshal())
	}
	return b
}

func UnmarshalStreamEventAppeared(b []byte) (*StreamEventAppeared, error) {
	m := &StreamEventAppeared{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			event, err := UnmarshalResolvedEvent(d.bytes())
			if err != nil {
				return nil, err
			}
			m.Event = event
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}

// SubscriptionDropped

func (self *SubscriptionDropped) Marshal() []byte {
	var b []byte
	b = appendInt32(b, 1, int32(self.Reason))
	return b
}

func UnmarshalSubscriptionDropped(b []byte) (*SubscriptionDropped, error) {
	m := &SubscriptionDropped{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.Reason = DropReason(d.int32())
		default:
			d.skip(num, typ)
		}
	}
	return m, d.err
}
