package notification

import (
	"encoding/json"
	"fmt"

	"gocloud.dev/pubsub"

	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
)

// AlignmentCompletion is a struct representing the message sent to notify
// alignment run completion.
type AlignmentCompletion struct {
	Key    alignmentrun.Key    `json:"key"`
	Status alignmentrun.Status `json:"status"`
	Walks  int                 `json:"walks"`
}

// ParseJSON takes in a notification JSON and returns an AlignmentCompletion
// struct.
func ParseJSON(msg *pubsub.Message) (AlignmentCompletion, error) {
	notification := AlignmentCompletion{}
	if err := json.Unmarshal(msg.Body, &notification); err != nil {
		return notification, fmt.Errorf("error unmarshalling json: %w", err)
	}
	return notification, nil
}
