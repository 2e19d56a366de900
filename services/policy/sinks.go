package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	azpolicy "github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
)

// Sink receives raised alerts
type Sink interface {
	Name() string
	Publish(ctx context.Context, alert *models.Alert) error
}

// RepositorySink stores alerts in the alert repository
type RepositorySink struct {
	alerts repositories.AlertRepository
}

// NewRepositorySink creates a new RepositorySink
func NewRepositorySink(alerts repositories.AlertRepository) *RepositorySink {
	return &RepositorySink{alerts: alerts}
}

// Name implements Sink
func (s *RepositorySink) Name() string { return "repository" }

// Publish implements Sink
func (s *RepositorySink) Publish(ctx context.Context, alert *models.Alert) error {
	if err := s.alerts.Insert(ctx, alert); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Enqueuer is the part of *azqueue.QueueClient the queue sink needs
type Enqueuer interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueSink publishes alerts as JSON messages to an Azure Storage Queue
type QueueSink struct {
	queue Enqueuer
}

// NewQueueSink creates a QueueSink on an existing queue client
func NewQueueSink(queue Enqueuer) *QueueSink {
	return &QueueSink{queue: queue}
}

// NewAzureQueueSink connects to the named queue and creates it when it does not exist yet
func NewAzureQueueSink(ctx context.Context, connStr, queueName string, maxRetries int32) (*QueueSink, error) {
	options := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: azpolicy.RetryOptions{
				MaxRetries:    maxRetries,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &options)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}

	if _, err := client.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return nil, fmt.Errorf("failed to create alert queue %s: %w", queueName, err)
		}
	}

	return NewQueueSink(client), nil
}

// Name implements Sink
func (s *QueueSink) Name() string { return "queue" }

// Publish implements Sink
func (s *QueueSink) Publish(ctx context.Context, alert *models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if _, err := s.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		return fmt.Errorf("failed to enqueue alert: %w", err)
	}
	return nil
}
