package persistence

import (
	"context"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const publishAuditCollection = "publish_audit"

var (
	_ repository.IPublishAudit = (*PublishAuditRepository)(nil)
	_ repository.IPublishAudit = NoopPublishAudit{}
)

// auditCollection is the part of *mongo.Collection the audit trail writes through.
type auditCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
}

// PublishAuditRepository appends dispatch attempts to a Mongo collection.
type PublishAuditRepository struct {
	collection auditCollection
}

func NewPublishAuditRepository(client *mongo.Client, database string) *PublishAuditRepository {
	return &PublishAuditRepository{collection: client.Database(database).Collection(publishAuditCollection)}
}

func (r *PublishAuditRepository) Record(ctx context.Context, audit *model.PublishAudit) error {
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	if _, err := r.collection.InsertOne(ctx, audit); err != nil {
		logger.GetLogger().
			WithField("post_id", audit.PostID).
			WithField("account_id", audit.SocialAccountID).
			WithField("error", err).
			Error("Error while writing publish audit")
		return err
	}
	return nil
}

// NoopPublishAudit is used when Mongo is not configured.
type NoopPublishAudit struct{}

func (NoopPublishAudit) Record(context.Context, *model.PublishAudit) error { return nil }
