// Package notifypubsub adapts a Google Cloud Pub/Sub publisher into a
// pulling.Notifier.
package notifypubsub

import (
	"context"

	"github.com/snapscore/pipeline/internal/pulling"
)

// Publisher is the minimal shape a Notifier needs from a message broker
// client. Both internal/publisher/pubsub and internal/publisher/memory
// implement it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// completionEnvelope is the JSON payload published for every completed
// response, small enough to fit a Pub/Sub message.
type completionEnvelope struct {
	Fingerprint string `json:"fingerprint"`
	Priority    string `json:"priority"`
	StatusCode  int    `json:"status_code"`
	ReceivedAt  string `json:"received_at"`
}

// Notifier publishes one completion envelope per response.
type Notifier struct {
	publisher Publisher
	topic     string
}

// New builds a Notifier publishing to topic.
func New(publisher Publisher, topic string) *Notifier {
	return &Notifier{publisher: publisher, topic: topic}
}

// Notify implements pulling.Notifier.
func (n *Notifier) Notify(ctx context.Context, resp pulling.FeedResponse) error {
	if n.publisher == nil {
		return nil
	}
	envelope := completionEnvelope{
		Fingerprint: resp.Fingerprint,
		Priority:    resp.Priority.String(),
		StatusCode:  resp.StatusCode,
		ReceivedAt:  resp.ReceivedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	_, err := n.publisher.Publish(ctx, n.topic, envelope)
	return err
}
