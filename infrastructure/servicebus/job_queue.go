package servicebus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var _ repository.IJobQueue = (*JobQueue)(nil)

// Namespace for deriving message ids from idempotency keys.
var messageIDSpace = uuid.MustParse("6f1c8d52-3b0e-4c8e-9a57-2f4f0b7d1e93")

const repeatEveryProperty = "repeat_every_ms"

type messageSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

type messageReceiver interface {
	ReceiveMessages(ctx context.Context, maxMessages int, options *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	AbandonMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.AbandonMessageOptions) error
	DeadLetterMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.DeadLetterOptions) error
	Close(ctx context.Context) error
}

// JobQueue is a delayed-job queue on one Service Bus queue. The job type travels
// in the message subject. Deduplication relies on the queue's duplicate detection
// over MessageID, which is derived from the idempotency key.
type JobQueue struct {
	sender      messageSender
	receiver    messageReceiver
	batch       int
	concurrency int
	now         func() time.Time

	mu       sync.RWMutex
	handlers map[string]repository.JobHandler
}

// NewJobQueue handles up to concurrency messages of a received batch at once.
func NewJobQueue(client *azservicebus.Client, queue string, concurrency int) (*JobQueue, error) {
	sender, err := client.NewSender(queue, nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while making new sender service bus.")
		return nil, err
	}
	receiver, err := client.NewReceiverForQueue(queue, nil)
	if err != nil {
		_ = sender.Close(context.Background())
		logger.GetLogger().WithField("error", err).Error("Error while making new receiver service bus.")
		return nil, err
	}
	return newJobQueue(sender, receiver, concurrency), nil
}

func newJobQueue(sender messageSender, receiver messageReceiver, concurrency int) *JobQueue {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &JobQueue{
		sender:      sender,
		receiver:    receiver,
		batch:       max(10, concurrency),
		concurrency: concurrency,
		now:         time.Now,
		handlers:    make(map[string]repository.JobHandler),
	}
}

// MessageID maps an idempotency key to a stable Service Bus message id.
func MessageID(idempotencyKey string) string {
	return uuid.NewSHA1(messageIDSpace, []byte(idempotencyKey)).String()
}

func (q *JobQueue) Enqueue(ctx context.Context, jobType string, payload []byte, opts repository.EnqueueOptions) error {
	msg := &azservicebus.Message{
		Body:    payload,
		Subject: &jobType,
	}
	if opts.IdempotencyKey != "" {
		id := MessageID(jobType + ":" + opts.IdempotencyKey)
		msg.MessageID = &id
	}
	if opts.Delay > 0 {
		at := q.now().Add(opts.Delay).UTC()
		msg.ScheduledEnqueueTime = &at
	}
	if err := q.sender.SendMessage(ctx, msg, nil); err != nil {
		logger.GetLogger().WithField("job", jobType).WithField("error", err).Error("Error while sending message.")
		return err
	}
	return nil
}

// EnqueueRepeating schedules the next slot of a self-rescheduling job. Every
// instance calling it for the same slot produces the same message id.
func (q *JobQueue) EnqueueRepeating(ctx context.Context, jobType string, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("servicebus: invalid interval %s for %s", every, jobType)
	}
	next := q.now().Truncate(every).Add(every).UTC()
	id := MessageID(fmt.Sprintf("%s:repeat:%d", jobType, next.Unix()))
	msg := &azservicebus.Message{
		Subject:               &jobType,
		MessageID:             &id,
		ScheduledEnqueueTime:  &next,
		ApplicationProperties: map[string]any{repeatEveryProperty: every.Milliseconds()},
	}
	return q.sender.SendMessage(ctx, msg, nil)
}

func (q *JobQueue) Process(jobType string, handler repository.JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

func (q *JobQueue) Run(ctx context.Context) error {
	logger.GetLogger().Info("Service Bus job consumer started")
	for {
		messages, err := q.receiver.ReceiveMessages(ctx, q.batch, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.GetLogger().WithField("error", err).Error("Error while receiving messages.")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		// One failing job must not cancel its batch siblings.
		var g errgroup.Group
		g.SetLimit(q.concurrency)
		for _, m := range messages {
			g.Go(func() error {
				q.handle(ctx, m)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (q *JobQueue) handle(ctx context.Context, m *azservicebus.ReceivedMessage) {
	jobType := ""
	if m.Subject != nil {
		jobType = *m.Subject
	}
	log := logger.GetLogger().WithField("job", jobType).WithField("message_id", m.MessageID)

	q.mu.RLock()
	handler, ok := q.handlers[jobType]
	q.mu.RUnlock()
	if !ok {
		log.Warn("No handler for job type; dead-lettering")
		reason := "unknown job type"
		if err := q.receiver.DeadLetterMessage(ctx, m, &azservicebus.DeadLetterOptions{Reason: &reason}); err != nil {
			log.WithField("error", err).Error("Error while dead-lettering message.")
		}
		return
	}

	if err := handler(ctx, m.Body); err != nil {
		log.WithField("error", err).WithField("delivery_count", m.DeliveryCount).Warn("Job failed; abandoning for redelivery")
		if err := q.receiver.AbandonMessage(ctx, m, nil); err != nil {
			log.WithField("error", err).Error("Error while abandoning message.")
		}
		return
	}

	if every := repeatInterval(m); every > 0 {
		if err := q.EnqueueRepeating(ctx, jobType, every); err != nil {
			log.WithField("error", err).Error("Error while rescheduling repeating job.")
		}
	}
	if err := q.receiver.CompleteMessage(ctx, m, nil); err != nil {
		log.WithField("error", err).Error("Error while completing message.")
	}
}

func repeatInterval(m *azservicebus.ReceivedMessage) time.Duration {
	v, ok := m.ApplicationProperties[repeatEveryProperty]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return time.Duration(n) * time.Millisecond
	case int32:
		return time.Duration(n) * time.Millisecond
	case int:
		return time.Duration(n) * time.Millisecond
	case string:
		ms, err := strconv.ParseInt(n, 10, 64)
		if err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return 0
}

func (q *JobQueue) Close(ctx context.Context) error {
	return errors.Join(q.receiver.Close(ctx), q.sender.Close(ctx))
}
