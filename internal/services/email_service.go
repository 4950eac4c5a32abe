package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailSender defines the outbound email surface used by the auth flows.
type EmailSender interface {
	SendMagicLink(ctx context.Context, email, token string) error
	SendLockoutAlert(ctx context.Context, email string, duration time.Duration, level int) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

func NewAWSSESEmailService(region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// SendMagicLink sends a one-time sign-in link.
func (s *AWSSESEmailService) SendMagicLink(ctx context.Context, email, token string) error {
	link := fmt.Sprintf("%s/auth/magic?token=%s", s.baseURL, token)

	htmlBody := fmt.Sprintf(`
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Sign in to your account</h2>
  <p>Click the link below to sign in. It expires in 15 minutes and can be used once.</p>
  <p><a href="%s">Sign in</a></p>
  <p>If you did not request this link, you can ignore this email.</p>
</body>
</html>`, link)

	textBody := fmt.Sprintf("Sign in using this link (expires in 15 minutes): %s\n\nIf you did not request this link, ignore this email.\n", link)

	return s.send(ctx, email, "Your sign-in link", htmlBody, textBody)
}

// SendLockoutAlert notifies an account holder that repeated failed logins
// locked the account.
func (s *AWSSESEmailService) SendLockoutAlert(ctx context.Context, email string, duration time.Duration, level int) error {
	htmlBody := fmt.Sprintf(`
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Account temporarily locked</h2>
  <p>Too many failed sign-in attempts were made on your account. Sign-in is paused for %s.</p>
  <p>If this was not you, consider changing your password once the lock expires.</p>
</body>
</html>`, duration)

	textBody := fmt.Sprintf(
		"Too many failed sign-in attempts were made on your account. Sign-in is paused for %s.\n\nIf this was not you, consider changing your password once the lock expires.\n",
		duration)

	s.logger.Warn("sending lockout alert",
		slog.Duration("duration", duration),
		slog.Int("level", level))

	return s.send(ctx, email, "Security alert: account temporarily locked", htmlBody, textBody)
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(htmlBody),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(textBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// NoopEmailService is used when outbound email is disabled; sends are
// logged and dropped.
type NoopEmailService struct {
	logger *slog.Logger
}

func NewNoopEmailService(logger *slog.Logger) *NoopEmailService {
	return &NoopEmailService{logger: logger}
}

func (s *NoopEmailService) SendMagicLink(ctx context.Context, email, token string) error {
	s.logger.Info("email disabled, dropping magic link send")
	return nil
}

func (s *NoopEmailService) SendLockoutAlert(ctx context.Context, email string, duration time.Duration, level int) error {
	s.logger.Info("email disabled, dropping lockout alert")
	return nil
}
