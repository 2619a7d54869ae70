package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "task-events", crawler.TaskEvent{TaskID: "t1", Status: crawler.TaskStatusCompleted})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	msgs[0].Topic = "modified"
	require.Equal(t, "task-events", pub.Messages()[0].Topic, "Messages returns a copy")

	events := pub.Events("task-events")
	require.Len(t, events, 1)
	require.Equal(t, "t1", events[0].TaskID)
	require.Empty(t, pub.Events("other"))
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("broker down"))
	_, err := pub.Publish(context.Background(), "task-events", "x")
	require.ErrorContains(t, err, "broker down")
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "task-events", "x")
	require.NoError(t, err)
}
