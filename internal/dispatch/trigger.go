// Package dispatch is the single entry point of the Lambda deployment: it
// classifies each inbound event and routes it to the HTTP gateway, the queue
// consumer or the scheduled runner.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
)

// Kind is the execution path chosen for an event.
type Kind string

const (
	KindHTTP      Kind = "http"
	KindQueue     Kind = "queue"
	KindScheduled Kind = "scheduled"
)

// Event source markers.
const (
	SQSEventSource       = "aws:sqs"
	ScheduledEventSource = "aws.events"
)

// envelope holds the top-level fields of an event undecoded, so a type
// mismatch in one field never hides another.
type envelope map[string]json.RawMessage

func parseEnvelope(raw []byte) envelope {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	return env
}

// str decodes the named field as a string, or "" when absent or not a string.
func (e envelope) str(name string) string {
	var v string
	if err := json.Unmarshal(e[name], &v); err != nil {
		return ""
	}
	return v
}

// records returns the elements of Records undecoded.
func (e envelope) records() []json.RawMessage {
	var recs []json.RawMessage
	if err := json.Unmarshal(e["Records"], &recs); err != nil {
		return nil
	}
	return recs
}

// Classify decides the execution path for raw. Queue wins over Scheduled,
// and anything else (including non-object payloads) is HTTP. Only
// Records[0].eventSource and source are inspected.
func Classify(raw []byte) Kind {
	return parseEnvelope(raw).kind()
}

func (e envelope) kind() Kind {
	if recs := e.records(); len(recs) > 0 && parseEnvelope(recs[0]).str("eventSource") == SQSEventSource {
		return KindQueue
	}
	if e.str("source") == ScheduledEventSource {
		return KindScheduled
	}
	return KindHTTP
}

// Trigger is a classified, decoded event.
type Trigger interface {
	Kind() Kind
}

// QueueTrigger carries an SQS batch, one entry per record in batch order.
type QueueTrigger struct {
	Records []QueueRecord
}

// QueueRecord is one SQS record. Err is set when the record itself could not
// be decoded; Message then holds whatever fields were readable.
type QueueRecord struct {
	Message events.SQSMessage
	Err     error
}

// Kind implements Trigger.
func (QueueTrigger) Kind() Kind { return KindQueue }

// ScheduledTrigger carries an EventBridge scheduled event.
type ScheduledTrigger struct {
	Event events.CloudWatchEvent
}

// Kind implements Trigger.
func (ScheduledTrigger) Kind() Kind { return KindScheduled }

// HTTPTrigger carries an API Gateway or function URL request. Exactly one of
// V1 and V2 is set for proxy events; neither is set for shapes the proxy
// does not understand.
type HTTPTrigger struct {
	V1  *events.APIGatewayProxyRequest
	V2  *events.APIGatewayV2HTTPRequest
	Raw json.RawMessage
}

// Kind implements Trigger.
func (HTTPTrigger) Kind() Kind { return KindHTTP }

type httpProbe struct {
	Version        string `json:"version"`
	HTTPMethod     string `json:"httpMethod"`
	RequestContext struct {
		HTTP struct {
			Method string `json:"method"`
		} `json:"http"`
	} `json:"requestContext"`
}

// Decode classifies raw and decodes it into the matching Trigger.
func Decode(raw []byte) (Trigger, error) {
	env := parseEnvelope(raw)
	switch env.kind() {
	case KindQueue:
		return decodeQueue(env), nil
	case KindScheduled:
		return decodeScheduled(raw, env), nil
	}

	trigger := HTTPTrigger{Raw: json.RawMessage(raw)}
	var probe httpProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return trigger, nil
	}
	switch {
	case probe.Version == "2.0" || probe.RequestContext.HTTP.Method != "":
		var req events.APIGatewayV2HTTPRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode http v2 event: %w", err)
		}
		trigger.V2 = &req
	case probe.HTTPMethod != "":
		var req events.APIGatewayProxyRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode http v1 event: %w", err)
		}
		trigger.V1 = &req
	}
	return trigger, nil
}

// decodeQueue decodes every record on its own so one malformed record cannot
// fail the batch.
func decodeQueue(env envelope) QueueTrigger {
	recs := env.records()
	t := QueueTrigger{Records: make([]QueueRecord, 0, len(recs))}
	for i, rec := range recs {
		var msg events.SQSMessage
		if err := json.Unmarshal(rec, &msg); err != nil {
			fields := parseEnvelope(rec)
			t.Records = append(t.Records, QueueRecord{
				Message: events.SQSMessage{
					MessageId:   fields.str("messageId"),
					EventSource: fields.str("eventSource"),
				},
				Err: fmt.Errorf("decode sqs record %d: %w", i, err),
			})
			continue
		}
		t.Records = append(t.Records, QueueRecord{Message: msg})
	}
	return t
}

// decodeScheduled falls back to the classified source when the event has
// fields of unexpected types; the scheduled task needs none of them.
func decodeScheduled(raw []byte, env envelope) ScheduledTrigger {
	var evt events.CloudWatchEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		evt = events.CloudWatchEvent{
			ID:         env.str("id"),
			Source:     env.str("source"),
			DetailType: env.str("detail-type"),
		}
	}
	return ScheduledTrigger{Event: evt}
}
