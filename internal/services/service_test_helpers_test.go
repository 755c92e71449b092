package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lordvitaly/lvchat/internal/store"
	apperrors "github.com/lordvitaly/lvchat/pkg/errors"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestNamespace(t *testing.T, s store.Store, policy store.Policy) *store.Namespace {
	t.Helper()
	ns, err := store.NewNamespace(s, policy)
	require.NoError(t, err)
	return ns
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	appErr := apperrors.FromError(err)
	require.Equal(t, status, appErr.StatusCode, appErr.Error())
}

