package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	pkglogger "github.com/mohitmehta601/agricure/pkg/logger"
)

// EmailService delivers verification codes. Implementations must honour
// ctx cancellation; the caller bounds each send with a timeout.
type EmailService interface {
	SendVerificationCode(ctx context.Context, email, code string, validFor time.Duration) error
}

// SESClient is the subset of the SES API used for delivery
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   SESClient
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService loads the default AWS credential chain for region
func NewAWSSESEmailService(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewAWSSESEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func NewAWSSESEmailServiceWithClient(client SESClient, fromAddress string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		sesClient:   client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

var verificationHTML = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Email Verification</title></head>
<body style="margin:0;padding:0;font-family:Arial,sans-serif;background-color:#f4f4f4;">
  <div style="max-width:600px;margin:0 auto;background:#ffffff;border-radius:8px;overflow:hidden;">
    <div style="background:#10b981;padding:32px 20px;text-align:center;color:#ffffff;">
      <h1 style="margin:0;font-size:28px;">AgriCure</h1>
      <p style="margin:8px 0 0 0;">Email Verification</p>
    </div>
    <div style="padding:32px 30px;color:#333333;">
      <h2 style="margin:0 0 16px 0;">Verify Your Email Address</h2>
      <p>Thank you for signing up with AgriCure! To complete your registration, please use the following One-Time Password (OTP):</p>
      <p style="text-align:center;font-size:36px;font-weight:bold;color:#10b981;letter-spacing:8px;">{{.Code}}</p>
      <p>This OTP will expire in <strong>{{.Minutes}} minutes</strong>. Please do not share this code with anyone.</p>
      <p>If you didn't sign up for AgriCure, you can ignore this email.</p>
    </div>
  </div>
</body>
</html>
`))

type verificationData struct {
	Code    string
	Minutes int
}

func renderVerificationEmail(code string, validFor time.Duration) (htmlBody, textBody string, err error) {
	data := verificationData{Code: code, Minutes: int(math.Ceil(validFor.Minutes()))}

	var buf bytes.Buffer
	if err := verificationHTML.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render verification email: %w", err)
	}

	textBody = fmt.Sprintf(`Verify Your Email Address

Thank you for signing up with AgriCure! Your One-Time Password (OTP) is:

%s

This OTP will expire in %d minutes. Please do not share this code with anyone.
If you didn't sign up for AgriCure, you can ignore this email.
`, data.Code, data.Minutes)

	return buf.String(), textBody, nil
}

// SendVerificationCode emails the one-time code to the address being verified
func (s *AWSSESEmailService) SendVerificationCode(ctx context.Context, email, code string, validFor time.Duration) error {
	htmlBody, textBody, err := renderVerificationEmail(code, validFor)
	if err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Verify Your Email - AgriCure"),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send verification email via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("verification email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogEmailService writes codes to the log instead of sending them.
// For local development only.
type LogEmailService struct {
	logger *slog.Logger
}

func NewLogEmailService(logger *slog.Logger) *LogEmailService {
	return &LogEmailService{logger: logger}
}

func (s *LogEmailService) SendVerificationCode(ctx context.Context, email, code string, validFor time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("verification code (log delivery)",
		slog.String("email", email),
		slog.String("code", code),
		slog.Duration("valid_for", validFor))
	return nil
}
