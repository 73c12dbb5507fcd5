package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"trackd/internal/types"
)

// FCMNotifier sends to the per-user topic user_<id> that the mobile app
// subscribes to at login, so no device token lookup is needed here.
type FCMNotifier struct {
	client *messaging.Client
}

func NewFCMNotifier(client *messaging.Client) *FCMNotifier {
	return &FCMNotifier{client: client}
}

func userTopic(id types.ID) string {
	return "user_" + string(id)
}

func (n *FCMNotifier) Notify(ctx context.Context, userID types.ID, title, message string, payload map[string]string) error {
	if userID == "" {
		return fmt.Errorf("notify: empty user id")
	}
	msg := &messaging.Message{
		Topic: userTopic(userID),
		Data:  payload,
		Notification: &messaging.Notification{
			Title: title,
			Body:  message,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if _, err := n.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM to %s: %w", userTopic(userID), err)
	}
	return nil
}
