package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/ao/internal/oerr"
)

type fakeNotifier struct{ name string }

func (f *fakeNotifier) Name() string                               { return f.name }
func (f *fakeNotifier) Notify(context.Context, Notification) error { return nil }

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterNotifier(&fakeNotifier{name: "webhook"}))
	require.NoError(t, r.RegisterNotifier(&fakeNotifier{name: "slack"}))
	r.Freeze()

	n, err := r.Notifier("webhook")
	require.NoError(t, err)
	assert.Equal(t, "webhook", n.Name())

	_, err = r.Notifier("pager")
	require.Error(t, err)
	assert.Equal(t, oerr.KindConfig, oerr.KindOf(err))

	all, err := r.Notifiers([]string{"webhook", "slack"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRegistryFrozenRejectsRegistration(t *testing.T) {
	r := NewRegistry()
	r.Freeze()

	err := r.RegisterNotifier(&fakeNotifier{name: "late"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frozen")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterNotifier(&fakeNotifier{name: "webhook"}))
	err := r.RegisterNotifier(&fakeNotifier{name: "webhook"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestHandleRoundTrip(t *testing.T) {
	h := Handle{
		ID:          "abc123-tbp-1",
		RuntimeName: "tmux",
		Data:        map[string]string{"panePid": "4242", "sessionId": "tbp-1"},
	}

	encoded, err := h.Encode()
	require.NoError(t, err)

	back, err := ParseHandle(encoded)
	require.NoError(t, err)
	assert.Equal(t, h, back)

	_, err = ParseHandle("{not json")
	assert.Equal(t, oerr.KindMetadata, oerr.KindOf(err))
}
