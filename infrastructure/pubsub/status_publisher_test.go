package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"social-publisher/domain/model"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestStatusPublisher_CreatesTopicAndPublishes(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	pub, err := NewStatusPublisher(ctx, client, "post-account-status")
	require.NoError(t, err)
	defer pub.Stop()

	id := "123"
	evt := &model.StatusEvent{
		Type:            "ledger_status",
		UserID:          "u1",
		PostID:          1,
		SocialAccountID: 20,
		PlatformID:      "twitter",
		Status:          model.PostAccountPublished,
		PostStatus:      model.PostPartiallyPublished,
		PlatformPostID:  &id,
		OccurredAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishStatus(ctx, evt))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", msgs[0].Attributes["post_id"])
	assert.Equal(t, "published", msgs[0].Attributes["status"])

	var got model.StatusEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, *evt, got)
}

func TestStatusPublisher_ReusesExistingTopic(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.CreateTopic(ctx, "existing")
	require.NoError(t, err)

	pub, err := NewStatusPublisher(ctx, client, "existing")
	require.NoError(t, err)
	pub.Stop()
}
