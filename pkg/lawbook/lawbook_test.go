package lawbook_test

import (
	"context"
	"testing"
	"time"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/lawbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls   int
	version string
	err     error
}

func (f *fakeSource) ActiveVersion(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.version, f.err
}

func TestGetActive_CachesWithinTTL(t *testing.T) {
	src := &fakeSource{version: "v3"}
	now := time.Now()
	r := lawbook.New(src).WithClock(func() time.Time { return now })

	v1, err := r.GetActive(context.Background(), "AFU9-LAWBOOK")
	require.NoError(t, err)
	assert.Equal(t, "v3", v1)

	v2, err := r.GetActive(context.Background(), "AFU9-LAWBOOK")
	require.NoError(t, err)
	assert.Equal(t, "v3", v2)
	assert.Equal(t, 1, src.calls, "second call should be served from cache")
}

func TestGetActive_RefetchesAfterTTL(t *testing.T) {
	src := &fakeSource{version: "v3"}
	now := time.Now()
	r := lawbook.New(src).WithTTL(10 * time.Second).WithClock(func() time.Time { return now })

	_, err := r.GetActive(context.Background(), "AFU9-LAWBOOK")
	require.NoError(t, err)

	now = now.Add(11 * time.Second)
	_, err = r.GetActive(context.Background(), "AFU9-LAWBOOK")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestGetActive_ErrorsAreNotCached(t *testing.T) {
	src := &fakeSource{err: assert.AnError}
	r := lawbook.New(src)

	_, err := r.GetActive(context.Background(), "AFU9-LAWBOOK")
	require.Error(t, err)

	_, err = r.GetActive(context.Background(), "AFU9-LAWBOOK")
	require.Error(t, err)
	assert.Equal(t, 2, src.calls, "an errored fetch must never be cached")
}

func TestRequireActive_NullVersionIsFailClosed(t *testing.T) {
	src := &fakeSource{version: ""}
	r := lawbook.New(src)

	_, err := r.RequireActive(context.Background(), "AFU9-LAWBOOK")
	require.Error(t, err)

	var aerr *afu9err.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, afu9err.CodeLawbookNotConfigured, aerr.Code)
}

func TestRequireActive_ReturnsVersionWhenConfigured(t *testing.T) {
	src := &fakeSource{version: "v7"}
	r := lawbook.New(src)

	v, err := r.RequireActive(context.Background(), "AFU9-LAWBOOK")
	require.NoError(t, err)
	assert.Equal(t, "v7", v)
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	src := &fakeSource{version: "v1"}
	r := lawbook.New(src)

	_, err := r.GetActive(context.Background(), "AFU9-LAWBOOK")
	require.NoError(t, err)

	r.Invalidate("AFU9-LAWBOOK")
	src.version = "v2"

	v, err := r.GetActive(context.Background(), "AFU9-LAWBOOK")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 2, src.calls)
}

func TestAttach_PreservesExplicitValue(t *testing.T) {
	obj := map[string]any{"lawbookVersion": "explicit-v1"}
	result := lawbook.Attach(obj, "resolved-v2")
	assert.Equal(t, "explicit-v1", result["lawbookVersion"])
}

func TestAttach_FillsAbsentField(t *testing.T) {
	obj := map[string]any{"foo": "bar"}
	result := lawbook.Attach(obj, "resolved-v2")
	assert.Equal(t, "resolved-v2", result["lawbookVersion"])
}

func TestAttach_NilObjCreatesMap(t *testing.T) {
	result := lawbook.Attach(nil, "v1")
	assert.Equal(t, "v1", result["lawbookVersion"])
}
