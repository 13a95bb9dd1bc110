package notification

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func fieldNames(err error) []string {
	verr, ok := err.(*ValidationError)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestValidateEmailPayload(t *testing.T) {
	valid := json.RawMessage(`{"to":"a@b.co","subject":"hi","body":"text"}`)
	require.NoError(t, ValidatePayload(ChannelEmail, valid))

	err := ValidatePayload(ChannelEmail, json.RawMessage(`{"to":"not-an-email","subject":"","body":"x"}`))
	require.Error(t, err)
	require.ElementsMatch(t, []string{"payload.to", "payload.subject"}, fieldNames(err))
}

func TestValidateEmailRejectsDisplayName(t *testing.T) {
	err := ValidatePayload(ChannelEmail, json.RawMessage(`{"to":"Alice <a@b.co>","subject":"s","body":"b"}`))
	require.Error(t, err)
	require.Contains(t, fieldNames(err), "payload.to")
}

func TestValidateEmailCCAddresses(t *testing.T) {
	err := ValidatePayload(ChannelEmail, json.RawMessage(`{"to":"a@b.co","subject":"s","body":"b","cc":["ok@b.co","bad"]}`))
	require.Error(t, err)
	require.Contains(t, fieldNames(err), "payload.cc[1]")
}

func TestValidateSMSPayload(t *testing.T) {
	require.NoError(t, ValidatePayload(ChannelSMS, json.RawMessage(`{"to":"+15550001234","message":"hello"}`)))

	err := ValidatePayload(ChannelSMS, json.RawMessage(`{"to":"12345","message":""}`))
	require.Error(t, err)
	require.ElementsMatch(t, []string{"payload.to", "payload.message"}, fieldNames(err))

	long := strings.Repeat("x", maxSMSLength+1)
	err = ValidatePayload(ChannelSMS, json.RawMessage(`{"to":"+15550001234","message":"`+long+`"}`))
	require.Error(t, err)
	require.Contains(t, fieldNames(err), "payload.message")
}

func TestValidatePushPayload(t *testing.T) {
	require.NoError(t, ValidatePayload(ChannelPush, json.RawMessage(`{"deviceToken":"tok","title":"t","body":"b"}`)))

	err := ValidatePayload(ChannelPush, json.RawMessage(`{"deviceToken":"","title":"","body":""}`))
	require.Error(t, err)
	require.ElementsMatch(t, []string{"payload.deviceToken", "payload.title", "payload.body"}, fieldNames(err))
}

func TestValidateMissingPayload(t *testing.T) {
	err := ValidatePayload(ChannelEmail, nil)
	require.Error(t, err)
	require.Contains(t, fieldNames(err), "payload")
}

func TestValidateWrongShape(t *testing.T) {
	err := ValidatePayload(ChannelEmail, json.RawMessage(`[1,2,3]`))
	require.Error(t, err)
}

func TestParseChannel(t *testing.T) {
	for _, name := range []string{"email", "sms", "push"} {
		ch, err := ParseChannel(name)
		require.NoError(t, err)
		require.Equal(t, name, ch.String())
	}
	_, err := ParseChannel("fax")
	require.Error(t, err)
}

func TestQueueMessageWithRetry(t *testing.T) {
	msg := NewQueueMessage(ChannelEmail, &Request{UserID: "u1", IdempotencyKey: "k1"})
	require.NotEmpty(t, msg.ID)
	require.Zero(t, msg.RetryCount)

	next := msg.WithRetry()
	require.Equal(t, 1, next.RetryCount)
	require.Equal(t, msg.ID, next.ID, "identity is stable across retries")
	require.Zero(t, msg.RetryCount, "original is unchanged")
}
