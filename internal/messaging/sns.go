package messaging

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/ledger"
)

// SNSAPI is the subset of the SNS client used by the publisher
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewSNSClient creates an SNS client from the default AWS credential chain
func NewSNSClient(ctx context.Context, region string) (*sns.Client, error) {
	var loaders []func(*awsconfig.LoadOptions) error
	if region != "" {
		loaders = append(loaders, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

// SNSPublisher forwards committed ledger events to an SNS topic. Publish only
// enqueues; a single worker sends in commit order. Events are dropped with a
// warning when the buffer is full.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan ledger.Event
	done   chan struct{}

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewSNSPublisher creates a publisher and starts its worker
func NewSNSPublisher(client SNSAPI, topicARN string, bufferSize int, logger *zap.Logger) *SNSPublisher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	p := &SNSPublisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
		queue:    make(chan ledger.Event, bufferSize),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish implements ledger.Publisher
func (p *SNSPublisher) Publish(_ context.Context, events []ledger.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(uint64(len(events)))
		return
	}
	for _, e := range events {
		select {
		case p.queue <- e:
		default:
			p.dropped.Add(1)
			p.logger.Warn("SNS queue full, dropping event",
				zap.String("kind", string(e.Kind())),
				zap.Uint64("seq", e.Header().Seq))
		}
	}
}

func (p *SNSPublisher) run() {
	defer close(p.done)
	for e := range p.queue {
		if err := p.send(context.Background(), e); err != nil {
			p.failed.Add(1)
			p.logger.Error("Failed to publish ledger event",
				zap.String("kind", string(e.Kind())),
				zap.Uint64("seq", e.Header().Seq),
				zap.Error(err))
			continue
		}
		p.sent.Add(1)
	}
}

func (p *SNSPublisher) send(ctx context.Context, e ledger.Event) error {
	payload, err := ledger.EncodeEvent(e)
	if err != nil {
		return err
	}

	attrs := map[string]types.MessageAttributeValue{
		"kind": {DataType: aws.String("String"), StringValue: aws.String(string(e.Kind()))},
		"seq":  {DataType: aws.String("Number"), StringValue: aws.String(strconv.FormatUint(e.Header().Seq, 10))},
	}
	if parties := ledger.Parties(e); len(parties) > 0 {
		attrs["account"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(parties[0])}
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Message:           aws.String(string(payload)),
		MessageAttributes: attrs,
	})
	return err
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (p *SNSPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublisherStats reports delivery counters
type PublisherStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Stats returns delivery counters
func (p *SNSPublisher) Stats() PublisherStats {
	return PublisherStats{
		Sent:    p.sent.Load(),
		Failed:  p.failed.Load(),
		Dropped: p.dropped.Load(),
	}
}
