package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobfeed-publisher/internal/clock/system"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage/memory"
)

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestArchiveStoresPageUnderRunDate(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	clock := system.Fixed(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	a, err := New(store, clock, "run-1")
	require.NoError(t, err)

	pageURL := "https://www.linkedin.com/jobs/view/engineer-123"
	require.NoError(t, a.Archive(context.Background(), pageURL, []byte("<html>job</html>")))

	key := a.Path(pageURL)
	assert.True(t, strings.HasPrefix(key, "pages/2026-10-18/run-1/linkedin-com-"), key)
	assert.True(t, strings.HasSuffix(key, ".html"), key)

	body, ok := store.Object(key)
	require.True(t, ok)
	assert.Equal(t, "<html>job</html>", string(body))
}

func TestPathIsStablePerURL(t *testing.T) {
	t.Parallel()

	clock := system.Fixed(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC))
	a, err := New(memory.NewBlobStore(), clock, "")
	require.NoError(t, err)

	first := a.Path("https://example.com/jobs/1")
	assert.Equal(t, first, a.Path("https://example.com/jobs/1"))
	assert.NotEqual(t, first, a.Path("https://example.com/jobs/2"))
	assert.True(t, strings.HasPrefix(first, "pages/2026-10-18/example-com-"), first)
	assert.True(t, strings.HasPrefix(a.Path("not a url"), "pages/2026-10-18/"))
}

func TestArchiveWrapsStoreErrors(t *testing.T) {
	t.Parallel()

	a, err := New(failingStore{}, system.New(), "run-1")
	require.NoError(t, err)
	err = a.Archive(context.Background(), "https://example.com/jobs/1", nil)
	require.ErrorContains(t, err, "bucket unavailable")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, system.New(), "")
	require.Error(t, err)
	_, err = New(memory.NewBlobStore(), nil, "")
	require.Error(t, err)
}
