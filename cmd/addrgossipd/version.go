// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"runtime/debug"
)

// appVersion is the application version in semantic versioning 2.0.0
// form.  It may be overridden at build time with:
// '-ldflags "-X main.appVersion=fullsemver"'
var appVersion = "1.0.0-pre"

// vcsCommitID returns the short commit id the binary was built from or an
// empty string when it is not available.
func vcsCommitID() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var vcsRevision string
	var dirty bool
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs.revision":
			vcsRevision = bs.Value
		case "vcs.modified":
			dirty = bs.Value == "true"
		}
	}
	if len(vcsRevision) > 9 {
		vcsRevision = vcsRevision[:9]
	}
	if vcsRevision != "" && dirty {
		vcsRevision += "-dirty"
	}
	return vcsRevision
}

// version returns the application version along with the commit it was built
// from when known.
func version() string {
	if commit := vcsCommitID(); commit != "" {
		return appVersion + "+" + commit
	}
	return appVersion
}
