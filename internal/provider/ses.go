package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
)

const sesProviderName = "ses"

// sesAPI is the slice of the SES v2 client the provider uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// transientSESCodes are SES error codes that clear up on their own.
var transientSESCodes = map[string]struct{}{
	"TooManyRequestsException": {},
	"ThrottlingException":      {},
	"LimitExceededException":   {},
	"ServiceUnavailable":       {},
	"InternalFailure":          {},
}

type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SESProvider sends through Amazon SES v2.
type SESProvider struct {
	client sesAPI
}

// NewSESProvider builds an SES client. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain applies.
func NewSESProvider(ctx context.Context, cfg SESConfig) (*SESProvider, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		return nil, fmt.Errorf("aws region is required for ses")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return NewSESProviderWithClient(sesv2.NewFromConfig(awsCfg))
}

func NewSESProviderWithClient(client sesAPI) (*SESProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("ses client is required")
	}
	return &SESProvider{client: client}, nil
}

func (p *SESProvider) Name() string { return sesProviderName }

func (p *SESProvider) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	if err := msg.Validate(); err != nil {
		return nil, invalidMessage(sesProviderName, err)
	}

	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
		EmailTags: sesTags(msg.Tags),
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return nil, classifySESError(err)
	}

	return &ProviderResponse{MessageID: aws.ToString(out.MessageId)}, nil
}

func classifySESError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		_, transient := transientSESCodes[apiErr.ErrorCode()]
		return &ProviderError{
			Provider:  sesProviderName,
			Code:      apiErr.ErrorCode(),
			Transient: transient,
			Cause:     err,
		}
	}
	return requestFailed(sesProviderName, "ses request failed", err)
}

// sesTags keeps only tags SES accepts: non-empty names and values.
func sesTags(tags map[string]string) []types.MessageTag {
	out := make([]types.MessageTag, 0, len(tags))
	for name, value := range tags {
		if name == "" || value == "" {
			continue
		}
		out = append(out, types.MessageTag{Name: aws.String(name), Value: aws.String(value)})
	}
	return out
}
