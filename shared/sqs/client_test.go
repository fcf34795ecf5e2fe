package sqs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAPIError implements smithy.APIError for testing error code mapping.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

type fakeAPI struct {
	getURLCalls int
	getURLErr   error
	created     *awssqs.CreateQueueInput
	sent        []*awssqs.SendMessageInput
	sendErr     error
	received    *awssqs.ReceiveMessageInput
	messages    []types.Message
	deleted     []string
}

func (f *fakeAPI) CreateQueue(_ context.Context, in *awssqs.CreateQueueInput, _ ...func(*awssqs.Options)) (*awssqs.CreateQueueOutput, error) {
	f.created = in
	return &awssqs.CreateQueueOutput{QueueUrl: aws.String("https://sqs.local/000/" + aws.ToString(in.QueueName))}, nil
}

func (f *fakeAPI) GetQueueUrl(_ context.Context, in *awssqs.GetQueueUrlInput, _ ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error) {
	f.getURLCalls++
	if f.getURLErr != nil {
		return nil, f.getURLErr
	}
	return &awssqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/000/" + aws.ToString(in.QueueName))}, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, in *awssqs.SendMessageInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	return &awssqs.SendMessageOutput{MessageId: aws.String(fmt.Sprintf("msg-%d", len(f.sent)))}, nil
}

func (f *fakeAPI) ReceiveMessage(_ context.Context, in *awssqs.ReceiveMessageInput, _ ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error) {
	f.received = in
	return &awssqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeAPI) DeleteQueue(_ context.Context, in *awssqs.DeleteQueueInput, _ ...func(*awssqs.Options)) (*awssqs.DeleteQueueOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.QueueUrl))
	return &awssqs.DeleteQueueOutput{}, nil
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "empty config uses default chain",
			config: Config{},
		},
		{
			name:   "explicit credentials",
			config: Config{AccessKeyID: "AKIA", SecretAccessKey: "secret"},
		},
		{
			name:    "access key without secret",
			config:  Config{AccessKeyID: "AKIA"},
			wantErr: "secret access key is required",
		},
		{
			name:    "secret without access key",
			config:  Config{SecretAccessKey: "secret"},
			wantErr: "access key id is required",
		},
		{
			name:    "negative timeout",
			config:  Config{RequestTimeout: -time.Second},
			wantErr: "request timeout must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWrapError_APIErrorCodes(t *testing.T) {
	tests := []struct {
		code     string
		expected error
	}{
		{"AWS.SimpleQueueService.NonExistentQueue", ErrQueueNotFound},
		{"QueueDoesNotExist", ErrQueueNotFound},
		{"QueueDeletedRecently", ErrQueueDeletedRecently},
		{"AccessDenied", ErrAccessDenied},
		{"InvalidClientTokenId", ErrInvalidCredentials},
		{"ThrottlingException", ErrThrottled},
		{"ServiceUnavailable", ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := wrapError("Test", "queue.fifo", &mockAPIError{code: tt.code, message: "test message"})
			assert.True(t, errors.Is(err, tt.expected), "expected %v for code %s", tt.expected, tt.code)

			var qErr *QueueError
			require.True(t, errors.As(err, &qErr))
			assert.Equal(t, "Test", qErr.Op)
			assert.Equal(t, "queue.fifo", qErr.Queue)
		})
	}
}

func TestWrapError_TypedQueueDoesNotExist(t *testing.T) {
	err := wrapError("GetQueueUrl", "q.fifo", &types.QueueDoesNotExist{Message: aws.String("gone")})
	assert.True(t, IsNotFound(err))
}

func TestWrapError_UnknownKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := wrapError("ReceiveMessage", "q.fifo", cause)
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "sqs ReceiveMessage: q.fifo: connection refused", err.Error())
}

func TestClient_CreateQueue(t *testing.T) {
	api := &fakeAPI{}
	client := NewWithAPI(api, nil)

	url, err := client.CreateQueue(context.Background(), "job-2024-01-01-00-00-00.fifo", QueueAttributes{
		FIFO:                      true,
		ContentBasedDeduplication: true,
		RetentionPeriod:           14 * 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.local/000/job-2024-01-01-00-00-00.fifo", url)

	require.NotNil(t, api.created)
	assert.Equal(t, map[string]string{
		"FifoQueue":                 "true",
		"ContentBasedDeduplication": "true",
		"MessageRetentionPeriod":    "1209600",
		"VisibilityTimeout":         "0",
	}, api.created.Attributes)

	// created queues are cached, no lookup needed
	_, err = client.QueueURL(context.Background(), "job-2024-01-01-00-00-00.fifo")
	require.NoError(t, err)
	assert.Equal(t, 0, api.getURLCalls)
}

func TestClient_CreateQueueAlwaysSetsVisibilityTimeout(t *testing.T) {
	tests := []struct {
		name       string
		visibility time.Duration
		want       string
	}{
		{name: "zero keeps reads non-consuming", visibility: 0, want: "0"},
		{name: "explicit", visibility: 45 * time.Second, want: "45"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			client := NewWithAPI(api, nil)

			_, err := client.CreateQueue(context.Background(), "job.fifo", QueueAttributes{
				FIFO:              true,
				VisibilityTimeout: tt.visibility,
			})
			require.NoError(t, err)

			got, ok := api.created.Attributes["VisibilityTimeout"]
			require.True(t, ok, "VisibilityTimeout attribute must be sent")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_QueueURLCached(t *testing.T) {
	api := &fakeAPI{}
	client := NewWithAPI(api, nil)

	for i := 0; i < 3; i++ {
		_, err := client.QueueURL(context.Background(), "a.fifo")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, api.getURLCalls)
}

func TestClient_QueueURLNotFound(t *testing.T) {
	api := &fakeAPI{getURLErr: &mockAPIError{code: "AWS.SimpleQueueService.NonExistentQueue"}}
	client := NewWithAPI(api, nil)

	_, err := client.QueueURL(context.Background(), "missing.fifo")
	assert.True(t, IsNotFound(err))
}

func TestClient_Send(t *testing.T) {
	api := &fakeAPI{}
	client := NewWithAPI(api, nil)

	id, err := client.Send(context.Background(), "a.fifo", OutgoingMessage{
		Body:       "Queued.",
		GroupID:    "a",
		Attributes: map[string]string{"Status": "Queued."},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.Len(t, api.sent, 1)
	in := api.sent[0]
	assert.Equal(t, "Queued.", aws.ToString(in.MessageBody))
	assert.Equal(t, "a", aws.ToString(in.MessageGroupId))
	assert.Equal(t, "Queued.", aws.ToString(in.MessageAttributes["Status"].StringValue))
	assert.Equal(t, "String", aws.ToString(in.MessageAttributes["Status"].DataType))
}

func TestClient_SendForgetsURLOfMissingQueue(t *testing.T) {
	api := &fakeAPI{sendErr: &mockAPIError{code: "QueueDoesNotExist"}}
	client := NewWithAPI(api, nil)

	_, err := client.Send(context.Background(), "a.fifo", OutgoingMessage{Body: "x", GroupID: "a"})
	require.True(t, IsNotFound(err))

	api.sendErr = nil
	_, err = client.Send(context.Background(), "a.fifo", OutgoingMessage{Body: "x", GroupID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, api.getURLCalls)
}

func TestClient_Receive(t *testing.T) {
	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		messages: []types.Message{
			{
				MessageId: aws.String("m1"),
				Body:      aws.String("Running: 50%"),
				Attributes: map[string]string{
					"SentTimestamp": fmt.Sprintf("%d", sent.UnixMilli()),
				},
				MessageAttributes: map[string]types.MessageAttributeValue{
					"Status": {DataType: aws.String("String"), StringValue: aws.String("Running: 50%")},
				},
			},
			{
				MessageId:  aws.String("m2"),
				Body:       aws.String("Queued."),
				Attributes: map[string]string{"SentTimestamp": "garbage"},
			},
		},
	}
	client := NewWithAPI(api, nil)

	msgs, err := client.Receive(context.Background(), "a.fifo", ReceiveOptions{
		MaxMessages: 10,
		WaitTime:    12 * time.Second,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "m1", msgs[0].ID)
	assert.True(t, sent.Equal(msgs[0].SentAt))
	assert.Equal(t, "Running: 50%", msgs[0].Attributes["Status"])
	assert.True(t, msgs[1].SentAt.IsZero())

	require.NotNil(t, api.received)
	assert.Equal(t, int32(10), api.received.MaxNumberOfMessages)
	assert.Equal(t, int32(12), api.received.WaitTimeSeconds)
	assert.Equal(t, int32(0), api.received.VisibilityTimeout)
	assert.Contains(t, api.received.MessageSystemAttributeNames, types.MessageSystemAttributeNameSentTimestamp)
}

func TestClient_DeleteQueue(t *testing.T) {
	api := &fakeAPI{}
	client := NewWithAPI(api, nil)

	require.NoError(t, client.DeleteQueue(context.Background(), "a.fifo"))
	assert.Equal(t, []string{"https://sqs.local/000/a.fifo"}, api.deleted)

	// cache entry dropped with the queue
	require.NoError(t, client.DeleteQueue(context.Background(), "a.fifo"))
	assert.Equal(t, 2, api.getURLCalls)
}
