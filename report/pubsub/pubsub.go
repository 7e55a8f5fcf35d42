// Package pubsub mirrors finished probe-report packets to a Google
// Cloud Pub/Sub topic, the GCP-native counterpart of report/kafka and
// report/amqp (SPEC_FULL §C.9), using cloud.google.com/go/pubsub and
// its transitive grpc/genproto/protobuf/oauth2/gax-go stack already
// present (indirect) in the teacher's go.mod.
package pubsub

import (
	"context"

	"cloud.google.com/go/pubsub"
)

// Reporter publishes each packet as a single Pub/Sub message.
type Reporter struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New builds a client for projectID and resolves topicID.
func New(ctx context.Context, projectID, topicID string) (*Reporter, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &Reporter{client: client, topic: client.Topic(topicID)}, nil
}

func (r *Reporter) Report(ctx context.Context, _ uint64, packet []byte) error {
	result := r.topic.Publish(ctx, &pubsub.Message{Data: packet})
	_, err := result.Get(ctx)
	return err
}

func (r *Reporter) Close() error {
	r.topic.Stop()
	return r.client.Close()
}
