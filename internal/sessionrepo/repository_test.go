// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionrepo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentviewer/core/internal/bus"
	"github.com/agentviewer/core/internal/ids"
	"github.com/agentviewer/core/internal/journal"
	"github.com/agentviewer/core/internal/overlay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJournal(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestGetSessionMergesOverlayAndDerivesMeta(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "sess1.jsonl",
		`{"type":"user","uuid":"u1","sessionId":"sess1","message":{"content":[{"type":"text","text":"hi"}]}}`+"\n")

	ov := overlay.New()
	ov.Create(ids.EncodeProjectID(dir), "sess1", []journal.Entry{
		{Type: journal.VariantAssistant, UUID: "a1", SessionID: "sess1"},
	})

	repo := New(ov, nil, "", nil)
	meta, entries, err := repo.GetSession(ids.EncodeProjectID(dir), "sess1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, meta.MessageCount)
	assert.Equal(t, "hi", meta.FirstUserMessage)
}

func TestGetSessionUnknownSessionReturnsNil(t *testing.T) {
	dir := t.TempDir()
	repo := New(overlay.New(), nil, "", nil)
	meta, entries, err := repo.GetSession(ids.EncodeProjectID(dir), "nope")
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Nil(t, entries)
}

func TestGetSessionsPaginatesByModTimeDescending(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "old.jsonl", `{"type":"user","uuid":"u1","sessionId":"old"}`+"\n")
	time.Sleep(10 * time.Millisecond)
	writeJournal(t, dir, "mid.jsonl", `{"type":"user","uuid":"u2","sessionId":"mid"}`+"\n")
	time.Sleep(10 * time.Millisecond)
	writeJournal(t, dir, "new.jsonl", `{"type":"user","uuid":"u3","sessionId":"new"}`+"\n")
	writeJournal(t, dir, "agent-side.jsonl", `{"type":"user","uuid":"u4","sessionId":"new"}`+"\n")

	repo := New(overlay.New(), nil, "", nil)
	pid := ids.EncodeProjectID(dir)

	page, cursor, err := repo.GetSessions(pid, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "new", page[0].ID)
	assert.Equal(t, "mid", page[1].ID)
	assert.Equal(t, "mid", cursor)

	page2, cursor2, err := repo.GetSessions(pid, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "old", page2[0].ID)
	assert.Equal(t, "", cursor2)
}

func TestSessionChangedInvalidatesMetaCache(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "sess1.jsonl", `{"type":"user","uuid":"u1","sessionId":"sess1"}`+"\n")

	b := bus.New(nil)
	repo := New(overlay.New(), b, "", nil)
	pid := ids.EncodeProjectID(dir)

	meta1, _, err := repo.GetSession(pid, "sess1")
	require.NoError(t, err)
	assert.Equal(t, 1, meta1.MessageCount)

	// A second user line arrives on disk; the cached meta must not
	// reflect it until sessionChanged fires.
	f, err := os.OpenFile(filepath.Join(dir, "sess1.jsonl"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"user","uuid":"u2","sessionId":"sess1"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	meta2, _, err := repo.GetSession(pid, "sess1")
	require.NoError(t, err)
	assert.Equal(t, 1, meta2.MessageCount, "stale cache should still be served")

	b.Publish(bus.SessionChanged, bus.SessionChangedPayload{ProjectID: pid, SessionID: "sess1"})
	require.Eventually(t, func() bool {
		meta3, _, err := repo.GetSession(pid, "sess1")
		return err == nil && meta3.MessageCount == 2
	}, time.Second, time.Millisecond)
}

func TestFirstUserMessageDiskCachePersists(t *testing.T) {
	journalDir := t.TempDir()
	cacheDir := t.TempDir()
	writeJournal(t, journalDir, "sess1.jsonl",
		`{"type":"user","uuid":"u1","sessionId":"sess1","message":{"content":[{"type":"text","text":"hello there"}]}}`+"\n")

	repo := New(overlay.New(), nil, cacheDir, nil)
	pid := ids.EncodeProjectID(journalDir)

	_, _, err := repo.GetSession(pid, "sess1")
	require.NoError(t, err)

	path := repo.fumCachePath(journalPath(pid, "sess1"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(data))
}
