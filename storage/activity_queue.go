package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

// Message is a single dequeued queue message.
type Message struct {
	ID      string
	Receipt string
	Text    string
}

// MessageQueue is the subset of a message queue used for deferred writes.
type MessageQueue interface {
	Enqueue(ctx context.Context, text string) error
	// Dequeue returns nil when the queue is empty.
	Dequeue(ctx context.Context) (*Message, error)
	Delete(ctx context.Context, id, receipt string) error
}

// AzureQueue adapts an Azure storage queue to MessageQueue.
type AzureQueue struct {
	client *azqueue.QueueClient
}

func NewAzureQueue(connStr, name string) (*AzureQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	c, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
	if err != nil {
		return nil, err
	}
	return &AzureQueue{client: c}, nil
}

func (q *AzureQueue) Enqueue(ctx context.Context, text string) error {
	_, err := q.client.EnqueueMessage(ctx, text, nil)
	return err
}

func (q *AzureQueue) Dequeue(ctx context.Context) (*Message, error) {
	resp, err := q.client.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &Message{}
	if m.MessageID != nil {
		msg.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.Receipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		msg.Text = *m.MessageText
	}
	return msg, nil
}

func (q *AzureQueue) Delete(ctx context.Context, id, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, id, receipt, nil)
	return err
}

// ActivityQueue defers activity writes through a message queue. Reads and
// every other operation go straight to the wrapped storage; Run drains the
// queue into it.
type ActivityQueue struct {
	domain.Storage
	queue  MessageQueue
	poll   time.Duration
	logger *log.Logger
}

func NewActivityQueue(base domain.Storage, q MessageQueue, logger *log.Logger) *ActivityQueue {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ActivityQueue{Storage: base, queue: q, poll: time.Second, logger: logger}
}

func (a *ActivityQueue) AppendActivity(ctx context.Context, act domain.Activity) error {
	payload, err := sonic.MarshalString(act)
	if err != nil {
		return err
	}
	if err := a.queue.Enqueue(ctx, payload); err != nil {
		return unavailable("enqueue activity", err)
	}
	return nil
}

// Run drains queued activities until ctx is cancelled.
func (a *ActivityQueue) Run(ctx context.Context) {
	for {
		drained, err := a.drainOne(ctx)
		if err != nil {
			a.logger.WithError(err).Warn("activity queue drain failed")
		}
		if drained && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.poll):
		}
	}
}

// drainOne moves a single message into storage. It reports whether a
// message was found. A message that fails to store stays on the queue
// and becomes visible again after its visibility timeout.
func (a *ActivityQueue) drainOne(ctx context.Context) (bool, error) {
	msg, err := a.queue.Dequeue(ctx)
	if err != nil || msg == nil {
		return false, err
	}
	var act domain.Activity
	if err := sonic.UnmarshalString(msg.Text, &act); err != nil {
		a.logger.WithError(err).WithField("message", msg.ID).Error("dropping malformed activity message")
		return true, a.queue.Delete(ctx, msg.ID, msg.Receipt)
	}
	if err := a.Storage.AppendActivity(ctx, act); err != nil {
		return true, err
	}
	return true, a.queue.Delete(ctx, msg.ID, msg.Receipt)
}
