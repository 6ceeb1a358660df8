package sender

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/leadpilot/leadpilot/internal/pkg/logger"
)

// SESSender delivers mail through Amazon SES v2.
type SESSender struct {
	client *sesv2.Client
	region string
}

// NewSESSender builds an SES client for the given region. Static keys take
// precedence when configured, otherwise the SDK's default credential chain
// applies.
func NewSESSender(ctx context.Context, region, accessKey, secretKey string) (*SESSender, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESSender{client: sesv2.NewFromConfig(cfg), region: region}, nil
}

// Send delivers a single plain-text email. Provider rejections are reported
// in the result, not as an error, so the dispatcher can record the failure
// on the message row.
func (s *SESSender) Send(ctx context.Context, msg *OutboundEmail) (*SendResult, error) {
	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.TextBody)},
				},
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		logger.Warn("ses send failed", "message_id", msg.MessageID, "error", err.Error())
		return &SendResult{Success: false, Err: err}, nil
	}

	res := &SendResult{Success: true, SentAt: time.Now().UTC()}
	if out.MessageId != nil {
		res.ProviderID = *out.MessageId
	}
	return res, nil
}
