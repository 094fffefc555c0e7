// README: Firebase Cloud Messaging notifier for users without a live connection.
package infra

import (
	"context"
	"encoding/json"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"dispatch/internal/types"
)

// FCMNotifier publishes events to the per-user topic "user-<id>".
type FCMNotifier struct {
	client *messaging.Client
}

// Notifier builds the push client on the shared app.
func (f *Firebase) Notifier(ctx context.Context) (*FCMNotifier, error) {
	client, err := f.app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return &FCMNotifier{client: client}, nil
}

func UserTopic(userID types.ID) string {
	return "user-" + string(userID)
}

// Notify sends a data message; the payload travels JSON encoded under "payload".
func (n *FCMNotifier) Notify(ctx context.Context, userID types.ID, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}
	msg := &messaging.Message{
		Topic: UserTopic(userID),
		Data: map[string]string{
			"type":    event,
			"payload": string(body),
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	}
	if _, err := n.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send %s: %w", event, err)
	}
	return nil
}
