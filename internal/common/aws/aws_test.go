package aws

import (
	"context"
	"errors"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: awssdk.String("ses-123")}, nil
}

type fakeSNS struct {
	input *sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	return &sns.PublishOutput{MessageId: awssdk.String("sns-456")}, nil
}

func TestSESClient_SendEmail(t *testing.T) {
	api := &fakeSES{}
	id, err := NewSESClientWithAPI(api, "noreply@example.com").
		SendEmail(context.Background(), "juma@example.com", "Lease ending", "Hi Juma")
	require.NoError(t, err)
	assert.Equal(t, "ses-123", id)
	assert.Equal(t, "noreply@example.com", awssdk.ToString(api.input.Source))
	assert.Equal(t, []string{"juma@example.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "Hi Juma", awssdk.ToString(api.input.Message.Body.Text.Data))

	api.err = errors.New("MessageRejected")
	_, err = NewSESClientWithAPI(api, "noreply@example.com").SendEmail(context.Background(), "x@example.com", "s", "b")
	assert.Error(t, err)
}

func TestSNSClient_SendSMS(t *testing.T) {
	api := &fakeSNS{}
	id, err := NewSNSClientWithAPI(api, "RENTALS").SendSMS(context.Background(), "+254712345678", "Rent due")
	require.NoError(t, err)
	assert.Equal(t, "sns-456", id)
	assert.Equal(t, "+254712345678", awssdk.ToString(api.input.PhoneNumber))
	assert.Equal(t, "RENTALS", awssdk.ToString(api.input.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue))
}
