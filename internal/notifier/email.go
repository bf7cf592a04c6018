package notifier

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
)

// EmailNotifier sends spot-available emails through AWS SES.
type EmailNotifier struct {
	client *ses.SES
	from   string
}

// NewEmailNotifier creates an SES-backed email notifier using the default
// AWS credential chain.
func NewEmailNotifier(region, from string) (*EmailNotifier, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &EmailNotifier{client: ses.New(sess), from: from}, nil
}

// NotifySpotAvailable implements Notifier.
func (e *EmailNotifier) NotifySpotAvailable(ctx context.Context, n SpotNotification) error {
	if n.Email == "" {
		return nil
	}

	name := n.FullName
	if name == "" {
		name = "there"
	}
	subject := fmt.Sprintf("Spot available: %s", n.EventTitle)
	body := fmt.Sprintf(
		"Hi %s,\n\nA spot opened up for %s on %s.\n\n"+
			"Claim it before %s:\n%s\n\n"+
			"If you no longer want to attend, you can ignore this email and "+
			"the spot will pass to the next person in line.\n",
		name,
		n.EventTitle,
		n.EventDate.Format("Monday, January 2, 2006"),
		n.ClaimDeadline.Format("3:04 PM on Monday, January 2"),
		n.ClaimURL,
	)

	_, err := e.client.SendEmailWithContext(ctx, &ses.SendEmailInput{
		Source: aws.String(e.from),
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(n.Email)},
		},
		Message: &ses.Message{
			Subject: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(subject)},
			Body: &ses.Body{
				Text: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(body)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
