// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package ids

import "testing"

func TestEncodeDecodeProjectIDRoundTrip(t *testing.T) {
	cases := []string{
		"/home/user/projects/foo",
		"/home/user/my-project",
		"/a/b/c-d-e",
		"/",
		"/tmp/has--double--dash",
	}
	for _, p := range cases {
		enc := EncodeProjectID(p)
		dec := DecodeProjectID(enc)
		if dec != p {
			t.Fatalf("round trip failed for %q: encoded %q decoded %q", p, enc, dec)
		}
	}
}

func TestEncodeProjectIDIsFilenameSafe(t *testing.T) {
	enc := EncodeProjectID("/home/user/my-project")
	for _, r := range enc {
		if r == '/' {
			t.Fatalf("encoded id contains path separator: %q", enc)
		}
	}
}
