package notifypubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memorypub "github.com/snapscore/pipeline/internal/publisher/memory"
	"github.com/snapscore/pipeline/internal/pulling"
)

func TestNotifierPublishesCompletionEnvelope(t *testing.T) {
	publisher := memorypub.New()
	n := New(publisher, "responses")

	resp := pulling.FeedResponse{
		Fingerprint: "fp-1",
		Priority:    pulling.PriorityHigh,
		StatusCode:  200,
		ReceivedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, n.Notify(context.Background(), resp))

	messages := publisher.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "responses", messages[0].Topic)

	envelope, ok := messages[0].Payload.(completionEnvelope)
	require.True(t, ok)
	assert.Equal(t, "fp-1", envelope.Fingerprint)
	assert.Equal(t, 200, envelope.StatusCode)
}

func TestNotifierNilPublisherIsNoop(t *testing.T) {
	n := New(nil, "responses")
	err := n.Notify(context.Background(), pulling.FeedResponse{Fingerprint: "fp-2"})
	assert.NoError(t, err)
}
