package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSProducer sends serialized payloads to an SQS queue.
type SQSProducer struct {
	client   SQSAPI
	queueURL string
}

var _ Enqueuer = (*SQSProducer)(nil)

// NewSQSClient loads the default AWS configuration chain.
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// NewSQSProducer binds a client to a queue URL.
func NewSQSProducer(client SQSAPI, queueURL string) *SQSProducer {
	return &SQSProducer{client: client, queueURL: queueURL}
}

// Enqueue sends body as the message body and returns the SQS message id.
func (p *SQSProducer) Enqueue(ctx context.Context, body []byte) (string, error) {
	if p == nil || p.client == nil || p.queueURL == "" {
		return "", ErrNotConfigured
	}
	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("sqs send message: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// Backend implements Enqueuer.
func (p *SQSProducer) Backend() string { return SourceSQS }
