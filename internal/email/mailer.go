// Package email renders and sends the service's outbound mail through
// Amazon SES.
package email

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"
)

// Sender delivers a rendered message and returns the transport message id.
type Sender interface {
	Send(ctx context.Context, to string, message Message) (string, error)
}

// MailerConfig configures the SES-backed mailer.
type MailerConfig struct {
	AWSRegion  string
	FromEmail  string
	FromName   string
	AppBaseURL string
	Logger     *zap.Logger
}

// Mailer sends templated email via SES v2. With no from-address configured
// the mailer runs disabled: sends succeed without leaving the process.
type Mailer struct {
	client     *sesv2.Client
	fromEmail  string
	fromName   string
	appBaseURL string
	enabled    bool
	logger     *zap.Logger
}

// NewMailer constructs the mailer, loading AWS configuration only when a
// from-address is present.
func NewMailer(ctx context.Context, cfg MailerConfig) (*Mailer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.FromEmail == "" {
		logger.Info("email disabled: no from address configured")
		return &Mailer{appBaseURL: cfg.AppBaseURL, logger: logger}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("email: load aws config: %w", err)
	}

	logger.Info("email enabled",
		zap.String("from", cfg.FromEmail),
		zap.String("region", cfg.AWSRegion))
	return &Mailer{
		client:     sesv2.NewFromConfig(awsCfg),
		fromEmail:  cfg.FromEmail,
		fromName:   cfg.FromName,
		appBaseURL: cfg.AppBaseURL,
		enabled:    true,
		logger:     logger,
	}, nil
}

// Enabled reports whether sends leave the process.
func (m *Mailer) Enabled() bool {
	return m.enabled
}

// SendTemplate renders the template and delivers it.
func (m *Mailer) SendTemplate(ctx context.Context, to string, template Template, data map[string]string) (string, error) {
	message, err := Render(template, data, m.appBaseURL)
	if err != nil {
		return "", err
	}
	return m.Send(ctx, to, message)
}

// Send delivers a rendered message through SES.
func (m *Mailer) Send(ctx context.Context, to string, message Message) (string, error) {
	if !m.enabled {
		m.logger.Debug("email skipped: disabled", zap.String("to", to), zap.String("subject", message.Subject))
		return "", nil
	}

	fromAddress := m.fromEmail
	if m.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(message.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(message.HTMLBody),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(message.TextBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("email: send to %s: %w", to, err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	m.logger.Info("email sent", zap.String("to", to), zap.String("subject", message.Subject))
	return messageID, nil
}
