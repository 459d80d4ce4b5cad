package pubsub

import (
	"context"
	"encoding/json"
	"strconv"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"

	"cloud.google.com/go/pubsub"
)

var _ repository.IStatusPublisher = (*StatusPublisher)(nil)

func NewPubSub(ctx context.Context, projectID string) (*pubsub.Client, error) {
	return pubsub.NewClient(ctx, projectID)
}

// StatusPublisher publishes ledger status events to one topic.
type StatusPublisher struct {
	topic *pubsub.Topic
}

// NewStatusPublisher opens topicID, creating it when it does not exist.
func NewStatusPublisher(ctx context.Context, client *pubsub.Client, topicID string) (*StatusPublisher, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		logger.GetLogger().WithField("topic", topicID).Info("Topic doesn't exist - creating it")
		if topic, err = client.CreateTopic(ctx, topicID); err != nil {
			return nil, err
		}
	}
	return &StatusPublisher{topic: topic}, nil
}

func (p *StatusPublisher) PublishStatus(ctx context.Context, evt *model.StatusEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"type":     evt.Type,
			"post_id":  strconv.FormatInt(evt.PostID, 10),
			"platform": evt.PlatformID,
			"status":   string(evt.Status),
		},
	}
	serverID, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("server_id", serverID).WithField("post_id", evt.PostID).Debug("Status event published")
	return nil
}

// Stop flushes pending messages.
func (p *StatusPublisher) Stop() {
	p.topic.Stop()
}
