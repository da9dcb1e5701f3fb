package esclient

import (
	"errors"
	"time"

	"github.com/chronolog/esclient/messages"
)

// expected-version sentinels.
//
// ExpectedVersionNoStream asserts the stream does not yet exist; an existing
// stream, even an empty one, is a concurrency conflict. There is no separate
// empty-stream sentinel.
const (
	ExpectedVersionAny          int64 = -2
	ExpectedVersionNoStream     int64 = -1
	ExpectedVersionStreamExists int64 = -4
)

// CreateEvent is a caller-constructed event to append. Never mutated by the
// client.
type CreateEvent struct {
	Id        Id
	EventType string
	IsJson    bool
	Data      []byte
	Metadata  []byte
}

// RecordedEvent is an event as read back from the server, with its assigned
// sequence number and creation time. Immutable once read from the wire.
type RecordedEvent struct {
	Stream      string
	Id          Id
	EventType   string
	EventNumber int64
	IsJson      bool
	Data        []byte
	Metadata    []byte
	Created     time.Time
}

// ResolvedEvent carries the delivered event and, when the delivery went
// through a link, the link record that pointed at it. At least one of Event
// and Link is always set.
type ResolvedEvent struct {
	Event *RecordedEvent
	Link  *RecordedEvent
}

// Record is the event to process: the resolved target when the server could
// resolve the link, else the link record itself.
func (self *ResolvedEvent) Record() *RecordedEvent {
	if self.Event != nil {
		return self.Event
	}
	return self.Link
}

// EventNumber is the delivery's position in the stream it was read or
// subscribed from: the link's number for link-resolved deliveries, else the
// event's own number.
func (self *ResolvedEvent) EventNumber() int64 {
	if self.Link != nil {
		return self.Link.EventNumber
	}
	return self.Event.EventNumber
}

// WriteResult reports the sequence range assigned to a committed batch.
// LastEventNumber is the expected version for a chained follow-up write.
type WriteResult struct {
	FirstEventNumber int64
	LastEventNumber  int64
}

func recordedEventFromRecord(record *messages.EventRecord) (*RecordedEvent, error) {
	id, err := IdFromBytes(record.EventId)
	if err != nil {
		return nil, err
	}
	return &RecordedEvent{
		Stream:      record.EventStreamId,
		Id:          id,
		EventType:   record.EventType,
		EventNumber: record.EventNumber,
		IsJson:      record.DataContentType == 1,
		Data:        record.Data,
		Metadata:    record.Metadata,
		Created:     time.UnixMilli(record.CreatedEpoch),
	}, nil
}

func resolvedEventFromRecords(event *messages.EventRecord, link *messages.EventRecord) (*ResolvedEvent, error) {
	if event == nil && link == nil {
		return nil, errors.New("resolved event has neither event nor link")
	}
	resolved := &ResolvedEvent{}
	if event != nil {
		record, err := recordedEventFromRecord(event)
		if err != nil {
			return nil, err
		}
		resolved.Event = record
	}
	if link != nil {
		record, err := recordedEventFromRecord(link)
		if err != nil {
			return nil, err
		}
		resolved.Link = record
	}
	return resolved, nil
}
