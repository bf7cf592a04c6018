package notifier

import (
	"context"
	"fmt"

	expo "github.com/darnfish/exponent-server-sdk-golang/sdk"
)

// PushNotifier sends spot-available push notifications via Expo.
type PushNotifier struct {
	client *expo.PushClient
}

// NewPushNotifier creates an Expo-backed push notifier.
func NewPushNotifier(accessToken string) *PushNotifier {
	return &PushNotifier{
		client: expo.NewPushClient(&expo.ClientConfig{AccessToken: accessToken}),
	}
}

// NotifySpotAvailable implements Notifier. Users without a push token are
// skipped silently.
func (p *PushNotifier) NotifySpotAvailable(ctx context.Context, n SpotNotification) error {
	if n.ExpoPushToken == "" {
		return nil
	}
	token, err := expo.NewExponentPushToken(n.ExpoPushToken)
	if err != nil {
		return fmt.Errorf("invalid push token: %w", err)
	}
	resp, err := p.client.Publish(&expo.PushMessage{
		To:    []expo.ExponentPushToken{token},
		Title: fmt.Sprintf("Spot available: %s", n.EventTitle),
		Body:  fmt.Sprintf("A spot opened up. Claim it before %s.", n.ClaimDeadline.Format("3:04 PM")),
	})
	if err != nil {
		return fmt.Errorf("publish push: %w", err)
	}
	return resp.ValidateResponse()
}
