// Package notify e-mails the statistics report after a run.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/olivestudio/leadrecon/internal/config"
	"github.com/olivestudio/leadrecon/internal/pkg/logger"
)

// SESAPI is the part of the SES v2 client the notifier uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Notifier sends the report to a fixed recipient list.
type Notifier struct {
	client  SESAPI
	from    string
	to      []string
	subject string
}

// NewSESNotifier builds an SES client from cfg. Static keys are used when
// set, otherwise the default credential chain.
func NewSESNotifier(ctx context.Context, cfg config.NotifyConfig) (*Notifier, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return New(sesv2.NewFromConfig(awsCfg), cfg.From, cfg.To, cfg.Subject), nil
}

func New(client SESAPI, from string, to []string, subject string) *Notifier {
	return &Notifier{client: client, from: from, to: to, subject: subject}
}

// SendReport mails the HTML report with a markdown text part. The subject
// carries the run date.
func (n *Notifier) SendReport(ctx context.Context, html, text string, at time.Time) (string, error) {
	if len(n.to) == 0 {
		return "", fmt.Errorf("notify: no recipients configured")
	}
	subject := fmt.Sprintf("%s %s", n.subject, at.Format("02/01/2006"))

	body := &types.Body{
		Html: &types.Content{Data: aws.String(wrapRTL(html)), Charset: aws.String("UTF-8")},
	}
	if text != "" {
		body.Text = &types.Content{Data: aws.String(text), Charset: aws.String("UTF-8")}
	}
	out, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &types.Destination{ToAddresses: n.to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("send report: %w", err)
	}

	id := aws.ToString(out.MessageId)
	for _, rcpt := range n.to {
		log.Printf("[notify] report sent to %s (id: %s)", logger.RedactEmail(rcpt), id)
	}
	return id, nil
}

func wrapRTL(fragment string) string {
	return `<html><body dir="rtl">` + fragment + `</body></html>`
}
