package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSessionID(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		raw     string
		want    SessionID
		wantErr error
	}{
		{name: "international format", raw: "+94 77-123-4567", want: "94771234567"},
		{name: "digits only", raw: "94771234567", want: "94771234567"},
		{name: "parentheses and dots", raw: "(077) 123.4567", want: "0771234567"},
		{name: "letters only", raw: "abc", wantErr: ErrInvalidIdentifier},
		{name: "empty", raw: "", wantErr: ErrInvalidIdentifier},
		{name: "whitespace", raw: "   ", wantErr: ErrInvalidIdentifier},
		{name: "non ascii digits", raw: "٣٤٥", wantErr: ErrInvalidIdentifier},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeSessionID(tc.raw)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, got)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestSessionIDValid(t *testing.T) {
	t.Parallel()

	assert.True(t, SessionID("123").Valid())
	assert.False(t, SessionID("").Valid())
	assert.False(t, SessionID("12a").Valid())
	assert.False(t, SessionID("../1").Valid())
}

func TestFormatPairingCode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw  string
		want string
	}{
		{raw: "ABCD1234", want: "ABCD-1234"},
		{raw: "ABCD12345", want: "ABCD-1234-5"},
		{raw: "ABCDEFGHIJ", want: "ABCD-EFGH-IJ"},
		{raw: "ABCD", want: "ABCD"},
		{raw: "AB", want: "AB"},
		{raw: "", want: ""},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, FormatPairingCode(tc.raw), "raw %q", tc.raw)
	}
}

func TestMessageContentTextPriority(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".alive", MessageContent{Conversation: ".alive", ExtendedText: "other"}.Text())
	assert.Equal(t, "quoted", MessageContent{ExtendedText: "quoted", ImageCaption: "caption"}.Text())
	assert.Equal(t, "caption", MessageContent{ImageCaption: "caption"}.Text())
	assert.Empty(t, MessageContent{}.Text())
}

func TestDisconnectReasonTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, DisconnectLoggedOut.Terminal())
	for _, reason := range []DisconnectReason{DisconnectConnectionLost, DisconnectTimedOut, DisconnectRestartRequired, DisconnectReplaced, ""} {
		assert.False(t, reason.Terminal(), "reason %q", reason)
	}
	assert.Equal(t, "unknown", DisconnectReason("").String())
}

func TestCredentialsCloneDoesNotShareMaterial(t *testing.T) {
	t.Parallel()

	original := Credentials{SessionID: "1", Material: []byte("secret")}
	clone := original.Clone()
	clone.Material[0] = 'X'

	assert.Equal(t, []byte("secret"), original.Material)
}
