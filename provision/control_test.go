package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	typ, err := ParseType("Control")
	require.NoError(t, err)
	assert.Equal(t, TypeControl, typ)
	assert.Equal(t, "control", typ.String())

	_, err = ParseType("esptouch")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestControlBeginEnd(t *testing.T) {
	c := NewControl()
	defer c.Close()

	assert.ErrorIs(t, c.Begin(Type(7)), ErrUnsupportedType)
	require.NoError(t, c.Begin(TypeControl))
	assert.True(t, c.Active())
	assert.ErrorIs(t, c.Begin(TypeControl), ErrAlreadyActive)

	require.NoError(t, c.End())
	require.NoError(t, c.End())
	assert.False(t, c.Active())
}

func TestControlSubmitNotListening(t *testing.T) {
	c := NewControl()
	defer c.Close()
	err := c.Submit(context.Background(), Credentials{SSID: "homenet"}, nil)
	assert.ErrorIs(t, err, ErrNotListening)
}

func TestControlSubmit(t *testing.T) {
	c := NewControl()
	defer c.Close()
	require.NoError(t, c.Begin(TypeControl))

	joined := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Submit(context.Background(), Credentials{SSID: "homenet", Passphrase: "longpassword"}, func(ctx context.Context) error {
			select {
			case <-joined:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	ev := <-c.Events()
	assert.Equal(t, EventCredentials, ev.Kind)
	assert.Equal(t, "homenet", ev.Credentials.SSID)

	close(joined)
	ev = <-c.Events()
	assert.Equal(t, EventAckDone, ev.Kind)
	require.NoError(t, <-done)
}

func TestControlSubmitEndsWithSession(t *testing.T) {
	c := NewControl()
	defer c.Close()
	require.NoError(t, c.Begin(TypeControl))

	done := make(chan error, 1)
	go func() {
		done <- c.Submit(context.Background(), Credentials{SSID: "homenet"}, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-c.Events()
	require.NoError(t, c.End())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotListening)
	case <-time.After(time.Second):
		t.Fatal("submit did not return after End")
	}
}

func TestControlSubmitFailure(t *testing.T) {
	c := NewControl()
	defer c.Close()
	require.NoError(t, c.Begin(TypeControl))

	failed := errors.New("join failed")
	done := make(chan error, 1)
	go func() {
		done <- c.Submit(context.Background(), Credentials{SSID: "homenet"}, func(context.Context) error {
			return failed
		})
	}()
	<-c.Events()
	assert.ErrorIs(t, <-done, failed)
	assert.True(t, c.Active())
}

func TestControlCloseFailsPendingSubmit(t *testing.T) {
	c := NewControl()
	require.NoError(t, c.Begin(TypeControl))

	// Nobody reads events, so the submit blocks until Close.
	done := make(chan error, 1)
	go func() {
		done <- c.Submit(context.Background(), Credentials{SSID: "homenet"}, nil)
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotListening)
	case <-time.After(time.Second):
		t.Fatal("submit did not return after Close")
	}
	assert.False(t, c.Active())

	select {
	case _, ok := <-c.Events():
		t.Fatalf("unexpected event, open %v", ok)
	default:
	}
}
