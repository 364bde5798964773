package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/fieldnotes/pkg/logger"
)

// Mailer delivers password reset links
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string, expiresAt time.Time) error
}

// SESAPI is the subset of the SES client used here
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService loads the default AWS config for region and creates an SES mailer
func NewAWSSESEmailService(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESMailer(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESMailer wraps an existing SES client
func NewSESMailer(client SESAPI, fromAddress string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		sesClient:   client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// SendPasswordReset sends the reset link to email
func (s *AWSSESEmailService) SendPasswordReset(ctx context.Context, email, link string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <h1>Reset your password</h1>
    <p>Someone asked to reset the password for your fieldnotes account.</p>
    <p><a href="%s">Choose a new password</a></p>
    <p>This link expires in %d minutes and can be used once.</p>
    <p>If you did not ask for this, you can ignore this email. Your password will not change.</p>
</body>
</html>
`, link, minutes)

	textBody := fmt.Sprintf(`Reset your password

Someone asked to reset the password for your fieldnotes account.

%s

This link expires in %d minutes and can be used once.
If you did not ask for this, you can ignore this email. Your password will not change.
`, link, minutes)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String("Reset your fieldnotes password")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to send password reset email via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.InfoContext(ctx, "password reset email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogMailer writes reset links to the log instead of sending them. In
// production the link is redacted.
type LogMailer struct {
	env    string
	logger *slog.Logger
}

func NewLogMailer(env string, logger *slog.Logger) *LogMailer {
	return &LogMailer{env: env, logger: logger}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, link string, expiresAt time.Time) error {
	m.logger.InfoContext(ctx, "password reset email (not sent)",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		pkglogger.RedactedAttr("link", link, m.env),
		slog.Time("expires_at", expiresAt))
	return nil
}
