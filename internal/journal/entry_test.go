// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJournal(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFileSkipsBlankLines(t *testing.T) {
	path := writeJournal(t, "\n{\"type\":\"user\",\"uuid\":\"a\"}\n\n{\"type\":\"assistant\",\"uuid\":\"b\"}\n")
	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].UUID)
	assert.Equal(t, "b", entries[1].UUID)
}

func TestParseFileMissingReturnsEmpty(t *testing.T) {
	entries, err := ParseFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseFileSynthesizesXErrorOnBadLine(t *testing.T) {
	path := writeJournal(t, "{\"type\":\"user\",\"uuid\":\"a\"}\nnot json\n{\"type\":\"user\",\"uuid\":\"c\"}\n")
	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, VariantXError, entries[1].Type)
	assert.Equal(t, 2, entries[1].LineNumber)
}

func TestParseFileDropsIncompleteTrailingLine(t *testing.T) {
	path := writeJournal(t, "{\"type\":\"user\",\"uuid\":\"a\"}\n{\"type\":\"user\",\"uuid\":\"b\"")
	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].UUID)
}

func TestParseIsIdempotent(t *testing.T) {
	content := "{\"type\":\"user\",\"uuid\":\"a\"}\n{\"type\":\"assistant\",\"uuid\":\"b\"}\n"
	e1, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	e2, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, e1, len(e2))
	for i := range e1 {
		assert.Equal(t, e1[i].Type, e2[i].Type)
		assert.Equal(t, e1[i].UUID, e2[i].UUID)
	}
}

func TestBrokenSummaryDropsOverlay(t *testing.T) {
	disk := []Entry{
		{Type: VariantSummary, UUID: "s1", LeafUUID: "leaf"},
		{Type: VariantUser, UUID: "u1"},
		{Type: VariantUser, UUID: "leaf"},
	}
	overlay := []Entry{{Type: VariantUser, UUID: "v1"}}
	merged := Merge(disk, overlay)
	assert.Equal(t, disk, merged)
}

func TestMergeAppendsOverlayAfterDisk(t *testing.T) {
	disk := []Entry{{Type: VariantUser, UUID: "u1"}}
	overlay := []Entry{{Type: VariantUser, UUID: "v1"}}
	merged := Merge(disk, overlay)
	require.Len(t, merged, 2)
	assert.Equal(t, "u1", merged[0].UUID)
	assert.Equal(t, "v1", merged[1].UUID)
}
