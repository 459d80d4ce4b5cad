package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"social-publisher/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type recordingCollection struct {
	docs []interface{}
	err  error
}

func (c *recordingCollection) InsertOne(_ context.Context, document interface{}, _ ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.docs = append(c.docs, document)
	return &mongo.InsertOneResult{InsertedID: bson.NewObjectID()}, nil
}

func TestPublishAuditRepository_Record(t *testing.T) {
	coll := &recordingCollection{}
	repo := &PublishAuditRepository{collection: coll}

	audit := &model.PublishAudit{
		PostID:          7,
		SocialAccountID: 3,
		UserID:          "u1",
		PlatformID:      "twitter",
		Status:          model.PostAccountPublished,
		PlatformPostID:  "tw-99",
		DurationMs:      120,
	}
	require.NoError(t, repo.Record(context.Background(), audit))
	require.Len(t, coll.docs, 1)
	assert.False(t, audit.CreatedAt.IsZero())

	raw, err := bson.Marshal(coll.docs[0])
	require.NoError(t, err)
	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, int64(7), doc["post_id"])
	assert.Equal(t, int64(3), doc["social_account_id"])
	assert.Equal(t, "twitter", doc["platform_id"])
	assert.Equal(t, "published", doc["status"])
	assert.Equal(t, "tw-99", doc["platform_post_id"])
	assert.NotContains(t, doc, "error_message")
	assert.Contains(t, doc, "created_at")
}

func TestPublishAuditRepository_RecordKeepsCreatedAt(t *testing.T) {
	coll := &recordingCollection{}
	repo := &PublishAuditRepository{collection: coll}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(context.Background(), &model.PublishAudit{PostID: 1, CreatedAt: at}))
	assert.Equal(t, at, coll.docs[0].(*model.PublishAudit).CreatedAt)
}

func TestPublishAuditRepository_RecordError(t *testing.T) {
	repo := &PublishAuditRepository{collection: &recordingCollection{err: errors.New("no primary")}}

	err := repo.Record(context.Background(), &model.PublishAudit{PostID: 1})
	assert.EqualError(t, err, "no primary")
}
