package messages

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestWriteEventsRoundTrip(t *testing.T) {
	message := &WriteEvents{
		EventStreamId:   "orders-7",
		ExpectedVersion: -1,
		Events: []*NewEvent{
			{
				EventId:         []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
				EventType:       "order-placed",
				DataContentType: 1,
				Data:            []byte(`{"total":42}`),
				Metadata:        []byte(`{"source":"test"}`),
			},
			{
				EventId:   []byte{15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
				EventType: "order-shipped",
				Data:      []byte{0xFF, 0x00},
			},
		},
		RequireMaster: true,
	}

	decoded, err := UnmarshalWriteEvents(message.Marshal())
	assert.Equal(t, err, nil)
	assert.Equal(t, "orders-7", decoded.EventStreamId)
	// negative expected versions survive the varint encoding
	assert.Equal(t, int64(-1), decoded.ExpectedVersion)
	assert.Equal(t, true, decoded.RequireMaster)
	assert.Equal(t, 2, len(decoded.Events))
	assert.Equal(t, "order-placed", decoded.Events[0].EventType)
	assert.Equal(t, int32(1), decoded.Events[0].DataContentType)
	assert.Equal(t, []byte(`{"total":42}`), decoded.Events[0].Data)
	assert.Equal(t, []byte(`{"source":"test"}`), decoded.Events[0].Metadata)
	assert.Equal(t, "order-shipped", decoded.Events[1].EventType)
	assert.Equal(t, int32(0), decoded.Events[1].DataContentType)
}

func TestWriteEventsCompletedResults(t *testing.T) {
	message := &WriteEventsCompleted{
		Result:           OperationWrongExpectedVersion,
		Message:          "expected version 3, stream is at 7",
		FirstEventNumber: 4,
		LastEventNumber:  4,
	}

	decoded, err := UnmarshalWriteEventsCompleted(message.Marshal())
	assert.Equal(t, err, nil)
	assert.Equal(t, OperationWrongExpectedVersion, decoded.Result)
	assert.Equal(t, "WrongExpectedVersion", decoded.Result.String())
	assert.Equal(t, "expected version 3, stream is at 7", decoded.Message)
	assert.Equal(t, int64(4), decoded.FirstEventNumber)
}

func TestReadStreamEventsCompletedNested(t *testing.T) {
	record := &EventRecord{
		EventStreamId:   "orders-7",
		EventNumber:     12,
		EventId:         []byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9},
		EventType:       "order-placed",
		DataContentType: 1,
		Data:            []byte(`{"total":42}`),
		CreatedEpoch:    1700000000000,
	}
	link := &EventRecord{
		EventStreamId: "$ce-orders",
		EventNumber:   100,
		EventId:       []byte{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		EventType:     "$>",
	}
	message := &ReadStreamEventsCompleted{
		Events: []*ResolvedIndexedEvent{
			{Event: record, Link: link},
			{Event: record},
		},
		Result:          ReadSuccess,
		NextEventNumber: 13,
		LastEventNumber: 12,
		IsEndOfStream:   true,
	}

	decoded, err := UnmarshalReadStreamEventsCompleted(message.Marshal())
	assert.Equal(t, err, nil)
	assert.Equal(t, ReadSuccess, decoded.Result)
	assert.Equal(t, int64(13), decoded.NextEventNumber)
	assert.Equal(t, true, decoded.IsEndOfStream)
	assert.Equal(t, 2, len(decoded.Events))
	assert.Equal(t, "orders-7", decoded.Events[0].Event.EventStreamId)
	assert.Equal(t, int64(12), decoded.Events[0].Event.EventNumber)
	assert.Equal(t, int64(1700000000000), decoded.Events[0].Event.CreatedEpoch)
	assert.Equal(t, "$ce-orders", decoded.Events[0].Link.EventStreamId)
	assert.Equal(t, decoded.Events[1].Link, nil)
}

func TestSubscriptionMessages(t *testing.T) {
	subscribe := &SubscribeToStream{
		EventStreamId:  "orders-7",
		ResolveLinkTos: true,
	}
	decodedSubscribe, err := UnmarshalSubscribeToStream(subscribe.Marshal())
	assert.Equal(t, err, nil)
	assert.Equal(t, "orders-7", decodedSubscribe.EventStreamId)
	assert.Equal(t, true, decodedSubscribe.ResolveLinkTos)

	confirmation := &SubscriptionConfirmation{
		LastCommitPosition: 1024,
		LastEventNumber:    6,
	}
	decodedConfirmation, err := UnmarshalSubscriptionConfirmation(confirmation.Marshal())
	assert.Equal(t, err, nil)
	assert.Equal(t, int64(6), decodedConfirmation.LastEventNumber)

	appeared := &StreamEventAppeared{
		Event: &ResolvedEvent{
			Event: &EventRecord{
				EventStreamId: "orders-7",
				EventNumber:   7,
				EventId:       []byte{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
				EventType:     "order-placed",
			},
			CommitPosition: 2048,
		},
	}
	decodedAppeared, err := UnmarshalStreamEventAppeared(appeared.Marshal())
	assert.Equal(t, err, nil)
	assert.Equal(t, int64(7), decodedAppeared.Event.Event.EventNumber)
	assert.Equal(t, int64(2048), decodedAppeared.Event.CommitPosition)

	dropped := &SubscriptionDropped{
		Reason: DropAccessDenied,
	}
	decodedDropped, err := UnmarshalSubscriptionDropped(dropped.Marshal())
	assert.Equal(t, err, nil)
	assert.Equal(t, DropAccessDenied, decodedDropped.Reason)
	assert.Equal(t, "AccessDenied", decodedDropped.Reason.String())
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	// a newer server may append fields this client does not know about
	b := (&SubscriptionConfirmation{LastCommitPosition: 1, LastEventNumber: 2}).Marshal()
	b = appendString(b, 15, "future field")

	decoded, err := UnmarshalSubscriptionConfirmation(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, int64(1), decoded.LastCommitPosition)
	assert.Equal(t, int64(2), decoded.LastEventNumber)
}

func TestTruncatedMessageFails(t *testing.T) {
	b := (&WriteEvents{
		EventStreamId:   "orders-7",
		ExpectedVersion: 3,
	}).Marshal()

	// cut into the stream id bytes
	_, err := UnmarshalWriteEvents(b[0:5])
	assert.NotEqual(t, err, nil)
}
