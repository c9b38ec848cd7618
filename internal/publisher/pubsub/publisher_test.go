package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "ajou-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishDeliversJSONWithChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, srv := newFakeClient(t)

	_, err := client.CreateTopic(ctx, "notices")
	require.NoError(t, err)

	pub, err := NewWithClient(ctx, client, "notices")
	require.NoError(t, err)

	id, err := pub.Publish(ctx, "ajou:notices", map[string]any{"id": 12345, "title": "수강신청 안내"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	require.Eventually(t, func() bool { return len(srv.Messages()) == 1 }, time.Second, 10*time.Millisecond)
	msg := srv.Messages()[0]
	require.Equal(t, "ajou:notices", msg.Attributes["channel"])

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, "수강신청 안내", got["title"])
}

func TestNewWithClientRejectsMissingTopic(t *testing.T) {
	t.Parallel()
	client, _ := newFakeClient(t)

	_, err := NewWithClient(context.Background(), client, "absent")
	require.ErrorContains(t, err, "does not exist")

	_, err = NewWithClient(context.Background(), client, "")
	require.Error(t, err)
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, _ := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "notices")
	require.NoError(t, err)

	pub, err := NewWithClient(ctx, client, "notices")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	_, err = pub.Publish(ctx, "", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
