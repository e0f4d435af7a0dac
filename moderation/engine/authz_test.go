package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminSetAuthorizer(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	p := filepath.Join(t.TempDir(), "admins.json")
	require.NoError(os.WriteFile(p, []byte(`{"-100": [1, 2], "*": [9]}`), 0644))

	a := NewAdminSetAuthorizer()
	require.NoError(a.LoadFromFileJSON(p))

	ok, err := a.IsAdmin(ctx, -100, 1, false)
	assert.NoError(err)
	assert.True(ok)
	// the caller flag is ignored
	ok, _ = a.IsAdmin(ctx, -100, 3, true)
	assert.False(ok)
	ok, _ = a.IsAdmin(ctx, -200, 1, false)
	assert.False(ok)
	ok, _ = a.IsAdmin(ctx, -200, 9, false)
	assert.True(ok)

	require.NoError(os.WriteFile(p, []byte(`{"general": [1]}`), 0644))
	assert.Error(NewAdminSetAuthorizer().LoadFromFileJSON(p))
	assert.Error(NewAdminSetAuthorizer().LoadFromFileJSON(filepath.Join(t.TempDir(), "missing.json")))
}

type countingAuthorizer struct {
	calls atomic.Int64
}

func (a *countingAuthorizer) IsAdmin(ctx context.Context, chatID, userID int64, callerFlag bool) (bool, error) {
	a.calls.Add(1)
	return userID == 1, nil
}

func TestCachedAuthorizer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	inner := &countingAuthorizer{}
	a := NewCachedAuthorizer(inner, 100, time.Hour)

	for i := 0; i < 5; i++ {
		ok, err := a.IsAdmin(ctx, -1, 1, false)
		assert.NoError(err)
		assert.True(ok)
		ok, err = a.IsAdmin(ctx, -1, 2, false)
		assert.NoError(err)
		assert.False(ok)
	}
	assert.Equal(int64(2), inner.calls.Load())

	a.Purge(-1, 1)
	_, _ = a.IsAdmin(ctx, -1, 1, false)
	assert.Equal(int64(3), inner.calls.Load())
}

func TestEngineWithAdminSetAuthorizer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng, _, _ := EngineTestFixture()
	authz := NewAdminSetAuthorizer()
	authz.Add("-1", 1)
	eng.Authorizer = authz

	// caller claims admin, but is not in the list
	_, err := eng.ProcessCommand(ctx, Command{ChatID: -1, CallerID: 2, IsAdminCaller: true, Name: "setmaxwarns", Args: []string{"5"}})
	assert.ErrorIs(err, ErrForbidden)

	_, err = eng.ProcessCommand(ctx, Command{ChatID: -1, CallerID: 1, Name: "setmaxwarns", Args: []string{"5"}})
	assert.NoError(err)
	assert.Equal(5, eng.Store.Get(-1).MaxWarns)
}
