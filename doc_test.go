// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package redpitaya

import (
	"runtime/debug"
	"testing"
)

func TestVersionOf(t *testing.T) {
	const root = "github.com/go-lpc/redpitaya"
	for _, tc := range []struct {
		name string
		deps []*debug.Module
		vers string
		sum  string
	}{
		{
			name: "no-deps",
		},
		{
			name: "other-deps",
			deps: []*debug.Module{{Path: "github.com/go-daq/tdaq", Version: "v0.14.2"}},
		},
		{
			name: "plain",
			deps: []*debug.Module{{Path: root, Version: "v0.3.0", Sum: "h1:xxx"}},
			vers: "v0.3.0",
			sum:  "h1:xxx",
		},
		{
			name: "replace-path-version",
			deps: []*debug.Module{{
				Path: root, Version: "v0.3.0",
				Replace: &debug.Module{Path: "example.org/rp", Version: "v0.4.0", Sum: "h1:yyy"},
			}},
			vers: "example.org/rp v0.4.0",
			sum:  "h1:yyy",
		},
		{
			name: "replace-version",
			deps: []*debug.Module{{
				Path: root, Version: "v0.3.0",
				Replace: &debug.Module{Version: "v0.4.0", Sum: "h1:zzz"},
			}},
			vers: "v0.4.0",
			sum:  "h1:zzz",
		},
		{
			name: "replace-path",
			deps: []*debug.Module{{
				Path: root, Version: "v0.3.0",
				Replace: &debug.Module{Path: "../redpitaya"},
			}},
			vers: "../redpitaya",
		},
		{
			name: "replace-empty",
			deps: []*debug.Module{{
				Path: root, Version: "v0.3.0",
				Replace: &debug.Module{},
			}},
			vers: "v0.3.0*",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vers, sum := versionOf(&debug.BuildInfo{Deps: tc.deps})
			if vers != tc.vers {
				t.Fatalf("invalid version: got=%q, want=%q", vers, tc.vers)
			}
			if sum != tc.sum {
				t.Fatalf("invalid sum: got=%q, want=%q", sum, tc.sum)
			}
		})
	}

	if vers, sum := versionOf(nil); vers != "" || sum != "" {
		t.Fatalf("invalid nil build-info: vers=%q, sum=%q", vers, sum)
	}
}
