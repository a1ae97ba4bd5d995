package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	texttemplate "text/template"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESConfig holds AWS SES v2 delivery settings.
type SESConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	From      string
}

const inviteSubject = "You have been invited"

var inviteHTML = template.Must(template.New("invite").Parse(`<html>
<body>
  <p>You have been invited to join <strong>{{.OrganizationName}}</strong> as {{.Role}}.</p>
  <p><a href="{{.AcceptLink}}">Accept the invitation</a></p>
  <p>This invitation expires on {{.ExpiresAt.Format "Jan 2, 2006"}}.</p>
</body>
</html>`))

var inviteText = texttemplate.Must(texttemplate.New("invite").Parse(
	`You have been invited to join {{.OrganizationName}} as {{.Role}}.

Accept the invitation: {{.AcceptLink}}

This invitation expires on {{.ExpiresAt.Format "Jan 2, 2006"}}.
`))

// SESMailer sends invitation emails through AWS SES v2.
type SESMailer struct {
	client *sesv2.Client
	from   string
}

// NewSESMailer creates an SES mailer with static credentials.
func NewSESMailer(ctx context.Context, cfg SESConfig) (*SESMailer, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("ses access key and secret key are required")
	}

	cred := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(cred),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESMailer{
		client: sesv2.NewFromConfig(awsCfg),
		from:   cfg.From,
	}, nil
}

// SendInvite renders and sends the invitation email (HTML + text parts).
func (m *SESMailer) SendInvite(ctx context.Context, invite Invite) error {
	var htmlBuf, textBuf bytes.Buffer
	if err := inviteHTML.Execute(&htmlBuf, invite); err != nil {
		return fmt.Errorf("failed to render invite email: %w", err)
	}
	if err := inviteText.Execute(&textBuf, invite); err != nil {
		return fmt.Errorf("failed to render invite email: %w", err)
	}

	subject := inviteSubject
	htmlBody := htmlBuf.String()
	textBody := textBuf.String()

	input := &sesv2.SendEmailInput{
		FromEmailAddress: &m.from,
		Destination: &types.Destination{
			ToAddresses: []string{invite.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: &subject},
				Body: &types.Body{
					Html: &types.Content{Data: &htmlBody},
					Text: &types.Content{Data: &textBody},
				},
			},
		},
	}

	if _, err := m.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send invite email: %w", err)
	}
	return nil
}

var _ Mailer = (*SESMailer)(nil)
