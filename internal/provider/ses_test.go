package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-0001")}, nil
}

func sesConfig() domain.ProviderConfig {
	return domain.ProviderConfig{
		Type:      domain.ProviderSES,
		FromEmail: "sender@example.com",
		FromName:  "Sender",
		Timeout:   time.Second,
		SES:       domain.SESSettings{Region: "us-east-1", ConfigurationSet: "campaigns"},
	}
}

func TestSESProvider_Deliver_Success(t *testing.T) {
	fake := &fakeSES{}
	p := NewSESWithClient(sesConfig(), fake)

	ack, err := p.Deliver(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "ses-0001", ack.MessageID)

	require.NotNil(t, fake.input)
	assert.Equal(t, []string{"recipient@example.com"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, `"Sender" <sender@example.com>`, aws.ToString(fake.input.FromEmailAddress))
	assert.Equal(t, "campaigns", aws.ToString(fake.input.ConfigurationSetName))
	assert.Equal(t, "Hello Acme", aws.ToString(fake.input.Content.Simple.Subject.Data))
	assert.Equal(t, "<p>Hi Acme</p>", aws.ToString(fake.input.Content.Simple.Body.Html.Data))
	assert.Equal(t, "Hi Acme", aws.ToString(fake.input.Content.Simple.Body.Text.Data))
}

func TestSESProvider_Deliver_ErrorCodes(t *testing.T) {
	tests := []struct {
		code string
		kind Kind
	}{
		{"TooManyRequestsException", KindRateLimit},
		{"Throttling", KindRateLimit},
		{"MessageRejected", KindSend},
		{"MailFromDomainNotVerifiedException", KindSend},
		{"AccessDeniedException", KindAuth},
		{"UnrecognizedClientException", KindAuth},
		{"ServiceUnavailable", KindUnavailable},
		{"BadRequestException", KindRequest},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			fake := &fakeSES{err: &smithy.GenericAPIError{Code: tt.code, Message: "boom"}}
			p := NewSESWithClient(sesConfig(), fake)

			_, err := p.Deliver(context.Background(), testMessage())
			var de *DeliveryError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.kind, de.Kind)
		})
	}
}

func TestSESProvider_Deliver_Deadline(t *testing.T) {
	fake := &fakeSES{err: context.DeadlineExceeded}
	p := NewSESWithClient(sesConfig(), fake)

	_, err := p.Deliver(context.Background(), testMessage())
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestTagValue(t *testing.T) {
	assert.Equal(t, "camp_2024-01", tagValue("camp 2024-01"))
	assert.Equal(t, "none", tagValue(""))
}
