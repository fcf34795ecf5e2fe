package sqs

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

// API is the subset of the SQS service client used by Client.
type API interface {
	CreateQueue(ctx context.Context, params *awssqs.CreateQueueInput, optFns ...func(*awssqs.Options)) (*awssqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, params *awssqs.GetQueueUrlInput, optFns ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteQueue(ctx context.Context, params *awssqs.DeleteQueueInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteQueueOutput, error)
}

var _ API = (*awssqs.Client)(nil)

// QueueAttributes describes a queue at creation time.
type QueueAttributes struct {
	FIFO                      bool
	ContentBasedDeduplication bool
	RetentionPeriod           time.Duration
	// VisibilityTimeout is the queue default applied to receives that pass
	// zero. It is always sent, so a zero value makes reads non-consuming
	// instead of falling back to the service default of 30s.
	VisibilityTimeout time.Duration
}

// OutgoingMessage is a message to enqueue. GroupID is required on FIFO queues.
type OutgoingMessage struct {
	Body       string
	GroupID    string
	Attributes map[string]string
}

// Message is a received message.
type Message struct {
	ID         string
	Body       string
	Attributes map[string]string
	SentAt     time.Time
}

// ReceiveOptions controls a single receive call.
type ReceiveOptions struct {
	MaxMessages       int
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
}

// Client performs queue operations addressed by queue name.
type Client struct {
	api            API
	logger         *slog.Logger
	requestTimeout time.Duration

	mu   sync.RWMutex
	urls map[string]string
}

// NewClient creates a client backed by the AWS SDK.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &QueueError{Op: "New", Err: err}
	}

	var opts []func(*awssqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *awssqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := NewWithAPI(awssqs.NewFromConfig(awsCfg, opts...), logger)
	client.requestTimeout = cfg.RequestTimeout

	logger.Info("SQS client created",
		slog.String("region", awsCfg.Region),
		slog.String("endpoint", cfg.Endpoint),
	)

	return client, nil
}

// NewWithAPI creates a client over an existing API implementation.
func NewWithAPI(api API, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    api,
		logger: logger,
		urls:   make(map[string]string),
	}
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	return config.LoadDefaultConfig(ctx, opts...)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// CreateQueue creates a queue and returns its URL. Creating an existing queue
// with identical attributes returns the existing URL.
func (c *Client) CreateQueue(ctx context.Context, name string, attrs QueueAttributes) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	attributes := map[string]string{}
	if attrs.FIFO {
		attributes[string(types.QueueAttributeNameFifoQueue)] = "true"
	}
	if attrs.ContentBasedDeduplication {
		attributes[string(types.QueueAttributeNameContentBasedDeduplication)] = "true"
	}
	if attrs.RetentionPeriod > 0 {
		attributes[string(types.QueueAttributeNameMessageRetentionPeriod)] = strconv.Itoa(int(attrs.RetentionPeriod / time.Second))
	}
	attributes[string(types.QueueAttributeNameVisibilityTimeout)] = strconv.Itoa(int(attrs.VisibilityTimeout / time.Second))

	output, err := c.api.CreateQueue(ctx, &awssqs.CreateQueueInput{
		QueueName:  aws.String(name),
		Attributes: attributes,
	})
	if err != nil {
		return "", wrapError("CreateQueue", name, err)
	}

	url := aws.ToString(output.QueueUrl)
	c.cacheURL(name, url)

	c.logger.Debug("Queue created",
		slog.String("queue", name),
		slog.String("url", url),
	)

	return url, nil
}

// QueueURL resolves a queue name to its URL, caching the result.
func (c *Client) QueueURL(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	url, ok := c.urls[name]
	c.mu.RUnlock()
	if ok {
		return url, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	output, err := c.api.GetQueueUrl(ctx, &awssqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		return "", wrapError("GetQueueUrl", name, err)
	}

	url = aws.ToString(output.QueueUrl)
	c.cacheURL(name, url)
	return url, nil
}

func (c *Client) cacheURL(name, url string) {
	c.mu.Lock()
	c.urls[name] = url
	c.mu.Unlock()
}

func (c *Client) forgetURL(name string) {
	c.mu.Lock()
	delete(c.urls, name)
	c.mu.Unlock()
}

// Send enqueues msg and returns the message ID.
func (c *Client) Send(ctx context.Context, queue string, msg OutgoingMessage) (string, error) {
	url, err := c.QueueURL(ctx, queue)
	if err != nil {
		return "", err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	input := &awssqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(msg.Body),
	}
	if msg.GroupID != "" {
		input.MessageGroupId = aws.String(msg.GroupID)
	}
	if len(msg.Attributes) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(msg.Attributes))
		for k, v := range msg.Attributes {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	output, err := c.api.SendMessage(ctx, input)
	if err != nil {
		err = wrapError("SendMessage", queue, err)
		if IsNotFound(err) {
			c.forgetURL(queue)
		}
		return "", err
	}

	return aws.ToString(output.MessageId), nil
}

// Receive reads up to opts.MaxMessages messages without deleting them. The
// send timestamp of every message is requested and parsed into SentAt. A zero
// opts.VisibilityTimeout is omitted from the request and the queue's own
// visibility timeout applies.
func (c *Client) Receive(ctx context.Context, queue string, opts ReceiveOptions) ([]Message, error) {
	url, err := c.QueueURL(ctx, queue)
	if err != nil {
		return nil, err
	}

	output, err := c.api.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(url),
		MaxNumberOfMessages:         int32(opts.MaxMessages),
		VisibilityTimeout:           int32(opts.VisibilityTimeout / time.Second),
		WaitTimeSeconds:             int32(opts.WaitTime / time.Second),
		MessageAttributeNames:       []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameSentTimestamp},
	})
	if err != nil {
		err = wrapError("ReceiveMessage", queue, err)
		if IsNotFound(err) {
			c.forgetURL(queue)
		}
		return nil, err
	}

	messages := make([]Message, 0, len(output.Messages))
	for _, m := range output.Messages {
		msg := Message{
			ID:         aws.ToString(m.MessageId),
			Body:       aws.ToString(m.Body),
			Attributes: make(map[string]string, len(m.MessageAttributes)),
		}
		for k, v := range m.MessageAttributes {
			msg.Attributes[k] = aws.ToString(v.StringValue)
		}
		if raw, ok := m.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)]; ok {
			sentAt, parseErr := parseEpochMillis(raw)
			if parseErr != nil {
				c.logger.Warn("Invalid SentTimestamp attribute",
					slog.String("queue", queue),
					slog.String("message_id", msg.ID),
					slog.String("value", raw),
				)
			} else {
				msg.SentAt = sentAt
			}
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// DeleteQueue deletes the queue. A missing queue is reported as ErrQueueNotFound.
func (c *Client) DeleteQueue(ctx context.Context, queue string) error {
	url, err := c.QueueURL(ctx, queue)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err = c.api.DeleteQueue(ctx, &awssqs.DeleteQueueInput{
		QueueUrl: aws.String(url),
	})
	c.forgetURL(queue)
	if err != nil {
		return wrapError("DeleteQueue", queue, err)
	}

	c.logger.Debug("Queue deleted",
		slog.String("queue", queue),
	)

	return nil
}

func parseEpochMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// wrapError converts SQS errors to QueueError carrying a sentinel where the
// failure is recognized.
func wrapError(op, queue string, err error) error {
	wrapped := &QueueError{
		Op:    op,
		Queue: queue,
		Err:   err,
	}

	var notExist *types.QueueDoesNotExist
	if errors.As(err, &notExist) {
		wrapped.Err = ErrQueueNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist":
			wrapped.Err = ErrQueueNotFound
		case "AWS.SimpleQueueService.QueueDeletedRecently", "QueueDeletedRecently":
			wrapped.Err = ErrQueueDeletedRecently
		case "AccessDenied", "AccessDeniedException":
			wrapped.Err = ErrAccessDenied
		case "InvalidClientTokenId", "UnrecognizedClientException", "SignatureDoesNotMatch":
			wrapped.Err = ErrInvalidCredentials
		case "RequestThrottled", "ThrottlingException", "Throttling":
			wrapped.Err = ErrThrottled
		case "ServiceUnavailable", "InternalFailure", "InternalError":
			wrapped.Err = ErrUnavailable
		}
		return wrapped
	}

	if strings.Contains(err.Error(), "NonExistentQueue") {
		wrapped.Err = ErrQueueNotFound
	}

	return wrapped
}
