package channel

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"dataproc/internal/logging"
)

type SQSConfig struct {
	// QueueURL skips resolving the queue by name.
	QueueURL        string
	WaitTimeSeconds int32
	VisibilityTO    int32
	// Base64Body decodes message bodies; SQS bodies are text only.
	Base64Body bool
}

func (c *SQSConfig) validate() error {
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		return errors.New("wait time seconds must be between 0 and 20")
	}
	if c.VisibilityTO < 0 {
		return errors.New("visibility timeout must be non-negative")
	}
	return nil
}

var DefaultSQSConfig = SQSConfig{
	WaitTimeSeconds: 20,
	VisibilityTO:    30,
	Base64Body:      true,
}

type sqsAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQS consumes an SQS queue one message per receive call. A message is
// deleted from the queue when acked.
type SQS struct {
	cfg    SQSConfig
	client sqsAPI
	logger logging.Logger

	retryDelay time.Duration

	mu       sync.Mutex
	queueURL string
	gate     *inflight[string]

	// done is cancelled by Close.
	done     context.Context
	shutdown context.CancelFunc
}

func NewSQS(client sqsAPI, cfg SQSConfig, logger logging.Logger) (*SQS, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	done, closeFn := context.WithCancel(context.Background())
	return &SQS{
		cfg:        cfg,
		client:     client,
		logger:     logger.With("component", "sqs_channel"),
		retryDelay: 250 * time.Millisecond,
		done:       done,
		shutdown:   closeFn,
	}, nil
}

func (s *SQS) Subscribe(ctx context.Context, queue string, prefetch int) error {
	if prefetch < 1 {
		return ErrInvalidPrefetch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		return ErrSubscribed
	}

	url := s.cfg.QueueURL
	if url == "" {
		out, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
		if err != nil {
			return fmt.Errorf("resolve sqs queue %q: %w", queue, err)
		}
		url = aws.ToString(out.QueueUrl)
	}
	if url == "" {
		return fmt.Errorf("resolve sqs queue %q: empty url", queue)
	}

	s.queueURL = url
	s.gate = newInflight[string](prefetch)

	s.logger.Info("subscribed", "queue", queue, "queue_url", url, "prefetch", prefetch)
	return nil
}

func (s *SQS) Receive(ctx context.Context) (Delivery, error) {
	s.mu.Lock()
	gate, url := s.gate, s.queueURL
	s.mu.Unlock()
	if gate == nil {
		return Delivery{}, ErrNotSubscribed
	}

	if err := gate.acquire(ctx, s.done.Done()); err != nil {
		return Delivery{}, err
	}

	for {
		select {
		case <-ctx.Done():
			gate.release()
			return Delivery{}, ctx.Err()
		case <-s.done.Done():
			gate.release()
			return Delivery{}, ErrClosed
		default:
		}

		msg, ok, err := s.poll(ctx, url)
		if err != nil {
			if ctx.Err() == nil && s.done.Err() == nil {
				s.logger.Warn("sqs receive failed", "error", err)
			}
			select {
			case <-time.After(s.retryDelay):
				continue
			case <-ctx.Done():
				continue
			case <-s.done.Done():
				continue
			}
		}
		if !ok {
			continue
		}

		return Delivery{
			Tag:        gate.track(aws.ToString(msg.ReceiptHandle)),
			Body:       s.body(msg),
			MessageID:  aws.ToString(msg.MessageId),
			ReceivedAt: time.Now(),
		}, nil
	}
}

func (s *SQS) poll(ctx context.Context, url string) (sqstypes.Message, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.WaitTimeSeconds+5)*time.Second)
	defer cancel()
	stop := context.AfterFunc(s.done, cancel)
	defer stop()

	out, err := s.client.ReceiveMessage(reqCtx, &sqs.ReceiveMessageInput{
		QueueUrl:              &url,
		MaxNumberOfMessages:   1,
		WaitTimeSeconds:       s.cfg.WaitTimeSeconds,
		VisibilityTimeout:     s.cfg.VisibilityTO,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return sqstypes.Message{}, false, err
	}
	if len(out.Messages) == 0 {
		return sqstypes.Message{}, false, nil
	}
	return out.Messages[0], true, nil
}

func (s *SQS) body(msg sqstypes.Message) []byte {
	raw := aws.ToString(msg.Body)
	if !s.cfg.Base64Body {
		return []byte(raw)
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Hand the raw text on; the envelope codec rejects it as a framing error.
		return []byte(raw)
	}
	return b
}

func (s *SQS) Ack(ctx context.Context, tag Tag) error {
	s.mu.Lock()
	gate, url := s.gate, s.queueURL
	s.mu.Unlock()
	if gate == nil {
		return ErrNotSubscribed
	}

	handle, ok := gate.take(tag)
	if !ok {
		return ErrUnknownTag
	}
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &url,
		ReceiptHandle: &handle,
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

// Close stops receiving. SQS holds no connection beyond the shared HTTP
// client, so there is nothing else to release.
func (s *SQS) Close() error {
	s.shutdown()
	return nil
}

func (s *SQS) Outstanding() int {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate == nil {
		return 0
	}
	return gate.outstanding()
}
