package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"gocloud.dev/pubsub"

	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
	"github.com/photoncontrols/skywalker/pkg/notification"
)

// PublishAlignmentCompletion sends the completion message for a finished
// run to the notification topic.
func PublishAlignmentCompletion(ctx context.Context, notificationTopic *pubsub.Topic, stop alignmentrun.RunStop) error {
	notificationMsg, err := json.Marshal(notification.AlignmentCompletion{
		Key:    stop.Key,
		Status: stop.Status,
		Walks:  stop.Walks,
	})
	if err != nil {
		return fmt.Errorf("failed to encode completion notification: %w", err)
	}
	err = notificationTopic.Send(ctx, &pubsub.Message{
		Body:     notificationMsg,
		Metadata: nil,
	})
	if err != nil {
		return fmt.Errorf("failed to send completion notification: %w", err)
	}
	return nil
}
