package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlaybook = `
name: greet
version: "1"
steps:
  - name: start
    type: task
    task:
      type: http
      url: https://example.com
`

const samplePlaybookV2 = `
name: greet
version: "2"
steps:
  - name: start
    type: task
    task:
      type: http
      url: https://example.com/v2
`

func TestMemoryCatalog_RegisterAndReadLatest(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()

	_, err := c.Register(ctx, "greet", "1", samplePlaybook)
	require.NoError(t, err)
	_, err = c.Register(ctx, "greet", "2", samplePlaybookV2)
	require.NoError(t, err)

	pb, err := c.ReadPlaybook(ctx, "greet", "")
	require.NoError(t, err)
	assert.Equal(t, "2", pb.Version)
}

func TestMemoryCatalog_RegisterTwiceRejected(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()

	_, err := c.Register(ctx, "greet", "1", samplePlaybook)
	require.NoError(t, err)

	_, err = c.Register(ctx, "greet", "1", samplePlaybook)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestMemoryCatalog_ReadMissingVersion(t *testing.T) {
	c := NewMemoryCatalog()
	_, err := c.ReadPlaybook(context.Background(), "greet", "9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCatalog_Changelog(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()
	_, err := c.Register(ctx, "greet", "1", samplePlaybook)
	require.NoError(t, err)
	_, err = c.Register(ctx, "greet", "2", samplePlaybookV2)
	require.NoError(t, err)

	patch, err := c.Changelog(ctx, "greet", "1", "2")
	require.NoError(t, err)
	assert.NotEmpty(t, patch)
}

func TestMemoryCatalog_List(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()
	_, err := c.Register(ctx, "greet", "1", samplePlaybook)
	require.NoError(t, err)
	_, err = c.Register(ctx, "greet", "2", samplePlaybookV2)
	require.NoError(t, err)

	entries, err := c.List(ctx, "greet")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[0].ResourceVersion, "most recently registered version first")
}
