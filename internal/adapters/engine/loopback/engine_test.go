package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, c ports.Client) ports.Event {
	t.Helper()

	select {
	case evt, ok := <-c.Events():
		require.True(t, ok, "events channel closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

func newEngine(autoConfirm time.Duration) *Engine {
	return New(Options{
		ConnectDelay: time.Millisecond,
		AutoConfirm:  autoConfirm,
		Logger:       zerolog.Nop(),
	})
}

func TestRegisteredClientOpensAfterConnect(t *testing.T) {
	t.Parallel()

	e := newEngine(0)
	creds := domain.Credentials{SessionID: "94771234567", Registered: true, Material: []byte{1}}
	c, err := e.NewClient(context.Background(), creds)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(context.Background()))

	evt := nextEvent(t, c)
	opened, ok := evt.(ports.ConnectionOpened)
	require.True(t, ok, "got %s", ports.EventKind(evt))
	assert.Equal(t, "94771234567@s.whatsapp.net", opened.Account)
	assert.Equal(t, opened.Account, c.SelfID())
}

func TestPairingAutoConfirmRegistersAndOpens(t *testing.T) {
	t.Parallel()

	e := newEngine(5 * time.Millisecond)
	c, err := e.NewClient(context.Background(), domain.NewCredentials("94770000001"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Connect(context.Background()))
	assert.Empty(t, c.SelfID())

	code, err := c.RequestPairingCode(context.Background(), "94770000001")
	require.NoError(t, err)
	assert.Len(t, code, pairingCodeLen)
	for _, r := range code {
		assert.Contains(t, codeAlphabet, string(r))
	}

	updated, ok := nextEvent(t, c).(ports.CredentialsUpdated)
	require.True(t, ok)
	assert.True(t, updated.Credentials.Registered)
	assert.Len(t, updated.Credentials.Material, 16)
	assert.Equal(t, "94770000001@s.whatsapp.net", updated.Credentials.Account)

	_, ok = nextEvent(t, c).(ports.ConnectionOpened)
	require.True(t, ok)

	_, err = c.RequestPairingCode(context.Background(), "94770000001")
	require.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}

func TestManualConfirm(t *testing.T) {
	t.Parallel()

	e := newEngine(0)
	c, err := e.NewClient(context.Background(), domain.NewCredentials("94770000002"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.Error(t, e.Confirm("94770000002"), "nothing pending yet")

	_, err = c.RequestPairingCode(context.Background(), "94770000002")
	require.NoError(t, err)
	require.NoError(t, e.Confirm("94770000002"))

	_, ok := nextEvent(t, c).(ports.CredentialsUpdated)
	require.True(t, ok)
	_, ok = nextEvent(t, c).(ports.ConnectionOpened)
	require.True(t, ok)
}

func TestSelfMessagesAreEchoed(t *testing.T) {
	t.Parallel()

	e := newEngine(0)
	c, err := e.NewClient(context.Background(), domain.Credentials{SessionID: "94770000003", Registered: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.ErrorIs(t, c.SendMessage(context.Background(), "x", "too early"), ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	_, ok := nextEvent(t, c).(ports.ConnectionOpened)
	require.True(t, ok)

	require.NoError(t, c.SendMessage(context.Background(), c.SelfID(), ".alive"))
	require.NoError(t, c.SendMessage(context.Background(), "peer@s.whatsapp.net", "hi"))

	received, ok := nextEvent(t, c).(ports.MessageReceived)
	require.True(t, ok)
	assert.True(t, received.Message.FromSelf)
	assert.Equal(t, ".alive", received.Message.Content.Text())

	assert.Equal(t, []Outbound{
		{To: c.SelfID(), Text: ".alive"},
		{To: "peer@s.whatsapp.net", Text: "hi"},
	}, e.Sent("94770000003"))
}

func TestDisconnectAndDeliver(t *testing.T) {
	t.Parallel()

	e := newEngine(0)
	id := domain.SessionID("94770000004")
	c, err := e.NewClient(context.Background(), domain.Credentials{SessionID: id, Registered: true})
	require.NoError(t, err)

	msg := domain.InboundMessage{Chat: "peer", Content: domain.MessageContent{Conversation: "hello"}}
	require.NoError(t, e.Deliver(id, msg))
	received, ok := nextEvent(t, c).(ports.MessageReceived)
	require.True(t, ok)
	assert.Equal(t, msg, received.Message)

	require.NoError(t, e.Disconnect(id, domain.DisconnectLoggedOut))
	closed, ok := nextEvent(t, c).(ports.ConnectionClosed)
	require.True(t, ok)
	assert.Equal(t, domain.DisconnectLoggedOut, closed.Reason)

	require.NoError(t, c.Close())
	_, open := <-c.Events()
	assert.False(t, open)

	require.ErrorIs(t, e.Disconnect(id, domain.DisconnectConnectionLost), domain.ErrSessionNotFound)
	require.ErrorIs(t, e.Deliver("1", msg), domain.ErrSessionNotFound)
}

func TestNewClientReplacesPreviousClient(t *testing.T) {
	t.Parallel()

	e := newEngine(0)
	id := domain.SessionID("94770000005")
	first, err := e.NewClient(context.Background(), domain.NewCredentials(id))
	require.NoError(t, err)
	second, err := e.NewClient(context.Background(), domain.NewCredentials(id))
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	_, open := <-first.Events()
	assert.False(t, open)
	require.ErrorIs(t, first.Connect(context.Background()), ErrClientClosed)

	_, err = e.NewClient(context.Background(), domain.NewCredentials("not-digits"))
	require.ErrorIs(t, err, domain.ErrInvalidIdentifier)
}
