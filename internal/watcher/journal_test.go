// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentviewer/core/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFileWriteEmitsSessionChangedAndListChanged(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-S-home-S-me-S-proj")
	require.NoError(t, os.MkdirAll(projectDir, 0755))

	b := bus.New(nil)
	var sessionChanged []bus.SessionChangedPayload
	var listChanged []bus.SessionListChangedPayload
	b.Subscribe(bus.SessionChanged, func(e bus.Event) {
		sessionChanged = append(sessionChanged, e.Payload.(bus.SessionChangedPayload))
	})
	b.Subscribe(bus.SessionListChanged, func(e bus.Event) {
		listChanged = append(listChanged, e.Payload.(bus.SessionListChangedPayload))
	})

	w, err := New(root, b, 20*time.Millisecond, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Close()

	sessionFile := filepath.Join(projectDir, "sess1.jsonl")
	require.NoError(t, os.WriteFile(sessionFile, []byte(`{"type":"user"}`+"\n"), 0644))

	require.Eventually(t, func() bool {
		return len(sessionChanged) == 1 && len(listChanged) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "sess1", sessionChanged[0].SessionID)
}

func TestAgentSideChannelWriteEmitsAgentSessionChanged(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-S-home-S-me-S-proj")
	require.NoError(t, os.MkdirAll(projectDir, 0755))

	b := bus.New(nil)
	var agentChanged []bus.AgentSessionChangedPayload
	b.Subscribe(bus.AgentSessionChanged, func(e bus.Event) {
		agentChanged = append(agentChanged, e.Payload.(bus.AgentSessionChangedPayload))
	})

	w, err := New(root, b, 20*time.Millisecond, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Close()

	agentFile := filepath.Join(projectDir, "agent-abc123.jsonl")
	require.NoError(t, os.WriteFile(agentFile, []byte(`{"type":"user"}`+"\n"), 0644))

	require.Eventually(t, func() bool {
		return len(agentChanged) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "abc123", agentChanged[0].AgentSessionID)
}

func TestRapidRewritesCoalesceIntoOneEmit(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-S-home-S-me-S-proj")
	require.NoError(t, os.MkdirAll(projectDir, 0755))

	b := bus.New(nil)
	var count int
	b.Subscribe(bus.SessionChanged, func(e bus.Event) { count++ })

	w, err := New(root, b, 100*time.Millisecond, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Close()

	sessionFile := filepath.Join(projectDir, "sess1.jsonl")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(sessionFile, []byte("line\n"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return count == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, count)
}

func TestNonJournalFileIsIgnored(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-S-home-S-me-S-proj")
	require.NoError(t, os.MkdirAll(projectDir, 0755))

	b := bus.New(nil)
	var count int
	b.Subscribe(bus.SessionChanged, func(e bus.Event) { count++ })
	b.Subscribe(bus.AgentSessionChanged, func(e bus.Event) { count++ })

	w, err := New(root, b, 20*time.Millisecond, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "notes.txt"), []byte("hi"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, count)
}

func TestNewProjectDirectoryIsPickedUpAutomatically(t *testing.T) {
	root := t.TempDir()

	b := bus.New(nil)
	var sessionChanged []bus.SessionChangedPayload
	b.Subscribe(bus.SessionChanged, func(e bus.Event) {
		sessionChanged = append(sessionChanged, e.Payload.(bus.SessionChangedPayload))
	})

	w, err := New(root, b, 20*time.Millisecond, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Close()

	projectDir := filepath.Join(root, "-S-home-S-me-S-newproj")
	require.NoError(t, os.MkdirAll(projectDir, 0755))
	time.Sleep(50 * time.Millisecond) // let fsnotify pick up the new watch

	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "sess2.jsonl"), []byte("line\n"), 0644))

	require.Eventually(t, func() bool {
		return len(sessionChanged) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "sess2", sessionChanged[0].SessionID)
}
