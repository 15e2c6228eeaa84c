// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"fmt"
	"strings"
)

// aggregated is the combined message built from one session's queued
// jobs, ready to feed continueTask (spec.md §4.8).
type aggregated struct {
	Text      string
	Images    []Attachment
	Documents []Attachment
}

// aggregateQueued builds the single follow-up message for jobs, which
// must already be sorted by CreatedAt ascending. The formatting here
// must reproduce spec.md §4.8 / S5 bit-exact.
func aggregateQueued(jobs []Job) aggregated {
	if len(jobs) == 1 {
		j := jobs[0]
		return aggregated{
			Text:      "[Note: While you were working, the user added a follow-up message:]\n\n" + j.Message.Content,
			Images:    append([]Attachment{}, j.Message.Images...),
			Documents: append([]Attachment{}, j.Message.Documents...),
		}
	}

	var allImages, allDocuments []Attachment
	attachmentCounts := make([]int, len(jobs)) // how many attachments each job contributes
	jobsWithAttachments := 0
	for i, j := range jobs {
		n := len(j.Message.Images) + len(j.Message.Documents)
		attachmentCounts[i] = n
		if n > 0 {
			jobsWithAttachments++
		}
	}

	header := fmt.Sprintf("[Note: While you were working, the user added %d follow-up messages.", len(jobs))
	if jobsWithAttachments >= 2 {
		header += " Attachment references in each follow-up refer only to that follow-up's attachments."
	}
	header += "]"

	globalIndex := 0
	blocks := make([]string, 0, len(jobs))
	for i, j := range jobs {
		var b strings.Builder
		fmt.Fprintf(&b, "--- Follow-up message %d ---\n", i+1)

		if jobsWithAttachments > 0 {
			if attachmentCounts[i] == 0 {
				b.WriteString("No attachments included.\n")
			} else {
				refs := make([]string, 0, attachmentCounts[i])
				for _, img := range j.Message.Images {
					globalIndex++
					refs = append(refs, fmt.Sprintf("#%d (%s)", globalIndex, img.MediaType))
					allImages = append(allImages, img)
				}
				for _, doc := range j.Message.Documents {
					globalIndex++
					refs = append(refs, fmt.Sprintf("#%d (%s)", globalIndex, doc.MediaType))
					allDocuments = append(allDocuments, doc)
				}
				b.WriteString("Attachments included: " + strings.Join(refs, ", ") + "\n")
			}
		} else {
			allImages = append(allImages, j.Message.Images...)
			allDocuments = append(allDocuments, j.Message.Documents...)
		}

		b.WriteString("\n" + j.Message.Content)
		blocks = append(blocks, b.String())
	}

	return aggregated{
		Text:      header + "\n\n" + strings.Join(blocks, "\n\n"),
		Images:    allImages,
		Documents: allDocuments,
	}
}
