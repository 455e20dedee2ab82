package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
)

// SampleHTTPEvent builds a function URL (payload v2) request that posts body
// to path.
func SampleHTTPEvent(method, path string, body []byte) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		Version:  "2.0",
		RouteKey: "$default",
		RawPath:  path,
		Headers:  map[string]string{"content-type": "application/json"},
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			RequestID: uuid.NewString(),
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method:   method,
				Path:     path,
				Protocol: "HTTP/1.1",
			},
		},
		Body: string(body),
	}
}

// SampleQueueEvent wraps each body in an SQS record.
func SampleQueueEvent(bodies ...[]byte) events.SQSEvent {
	evt := events.SQSEvent{Records: make([]events.SQSMessage, 0, len(bodies))}
	for i, body := range bodies {
		evt.Records = append(evt.Records, events.SQSMessage{
			MessageId:      fmt.Sprintf("sim-%d-%s", i+1, uuid.NewString()[:8]),
			Body:           string(body),
			EventSource:    SQSEventSource,
			EventSourceARN: "arn:aws:sqs:us-east-1:000000000000:agent-dispatch",
			AWSRegion:      "us-east-1",
		})
	}
	return evt
}

// SampleScheduledEvent is an EventBridge scheduled tick.
func SampleScheduledEvent() events.CloudWatchEvent {
	return events.CloudWatchEvent{
		Version:    "0",
		ID:         uuid.NewString(),
		DetailType: "Scheduled Event",
		Source:     ScheduledEventSource,
		Time:       time.Now().UTC(),
		Region:     "us-east-1",
		Detail:     json.RawMessage(`{}`),
	}
}
