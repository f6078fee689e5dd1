package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clarity/pkg/proto"
)

func newTestMessage() *proto.TaskMessage {
	msg := proto.NewTaskMessage(proto.KindIssue, proto.OriginIssue)
	msg.Repo = proto.RepoRef{URL: "https://github.com/acme/widgets.git", Owner: "acme", Name: "widgets"}
	msg.Description = "fix null pointer"
	return msg
}

func TestBrokerSendReceiveAck(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()

	msg := newTestMessage()
	require.NoError(t, b.Send(context.Background(), msg))

	d, err := b.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, msg.ID, d.Body().ID)
	assert.Equal(t, 1, d.Attempts())

	require.NoError(t, d.Ack())
	assert.ErrorIs(t, d.Ack(), ErrSettled)
	assert.Equal(t, 0, b.Depth())
}

func TestBrokerRejectsInvalidMessage(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()

	msg := proto.NewTaskMessage(proto.KindIssue, proto.OriginIssue)
	err := b.Send(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid message")
}

func TestBrokerRetryIncrementsAttempts(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()

	require.NoError(t, b.Send(context.Background(), newTestMessage()))

	d, err := b.Receive(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Retry())
	assert.ErrorIs(t, d.Retry(), ErrSettled)

	redelivered, err := b.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, redelivered.Attempts())
	assert.Equal(t, d.Body().ID, redelivered.Body().ID)
	require.NoError(t, redelivered.Ack())
}

func TestBrokerReceiveCancelled(t *testing.T) {
	b := NewBroker(1)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Receive(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBrokerClosed(t *testing.T) {
	b := NewBroker(1)
	b.Close()

	err := b.Send(context.Background(), newTestMessage())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBrokerRetryAfterClose(t *testing.T) {
	b := NewBroker(4)
	require.NoError(t, b.Send(context.Background(), newTestMessage()))

	d, err := b.Receive(context.Background())
	require.NoError(t, err)

	// An in-flight delivery cannot re-enter the queue once the broker is
	// shut down, even with buffer space free.
	b.Close()
	assert.ErrorIs(t, d.Retry(), ErrClosed)
	assert.Equal(t, 0, b.Depth())
}

func TestGetRetryInfo(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()
	require.NoError(t, b.Send(context.Background(), newTestMessage()))
	d, err := b.Receive(context.Background())
	require.NoError(t, err)

	info := GetRetryInfo(d, 3)
	assert.Equal(t, 1, info.Attempt)
	assert.False(t, info.IsLastAttempt)

	info = GetRetryInfo(d, 1)
	assert.True(t, info.IsLastAttempt)
	require.NoError(t, d.Ack())
}

func TestHandleRetryOrFailRetriesEarlyAttempts(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()
	require.NoError(t, b.Send(context.Background(), newTestMessage()))
	d, err := b.Receive(context.Background())
	require.NoError(t, err)

	called := false
	require.NoError(t, HandleRetryOrFail(d, false, func() error {
		called = true
		return nil
	}))
	assert.False(t, called, "terminal callback must not run on a non-final attempt")

	redelivered, err := b.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, redelivered.Attempts())
	require.NoError(t, redelivered.Ack())
}

func TestHandleRetryOrFailAcksLastAttempt(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()
	require.NoError(t, b.Send(context.Background(), newTestMessage()))
	d, err := b.Receive(context.Background())
	require.NoError(t, err)

	called := false
	require.NoError(t, HandleRetryOrFail(d, true, func() error {
		called = true
		return errors.New("notification failed")
	}))
	assert.True(t, called)

	// Acked despite the callback error: nothing left to receive.
	assert.Equal(t, 0, b.Depth())
}
