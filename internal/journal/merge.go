// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package journal

// Merge concatenates on-disk entries with virtual overlay entries,
// appending overlay after disk (spec.md §4.4). If the disk entries
// alone look like a "broken summary" — a summary entry whose leaf
// appears later in the same slice — the overlay is dropped entirely and
// the journal stands alone, since in that case the on-disk state is
// already inconsistent and stacking unconfirmed predictions on top of
// it would only compound the corruption.
func Merge(disk []Entry, overlay []Entry) []Entry {
	if brokenSummary(disk) {
		return disk
	}
	if len(overlay) == 0 {
		return disk
	}
	out := make([]Entry, 0, len(disk)+len(overlay))
	out = append(out, disk...)
	out = append(out, overlay...)
	return out
}

// brokenSummary reports whether any summary entry at index i references
// a leaf uuid that appears at index j > i.
func brokenSummary(entries []Entry) bool {
	pos := make(map[string]int, len(entries))
	for i, e := range entries {
		if e.UUID != "" {
			pos[e.UUID] = i
		}
	}
	for i, e := range entries {
		if e.Type != VariantSummary || e.LeafUUID == "" {
			continue
		}
		if j, ok := pos[e.LeafUUID]; ok && j > i {
			return true
		}
	}
	return false
}
