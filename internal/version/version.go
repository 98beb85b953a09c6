// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2018 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version provides a single location to house the version information
// for safed and other utilities provided in the same repository.
package version

import (
	"fmt"
	"strings"
)

// preReleaseAlphabet holds the characters allowed in the pre-release part of
// a semantic version.
const preReleaseAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

// These constants define the application version and follow the semantic
// versioning 2.0.0 rules (http://semver.org/).
const (
	Major uint = 2
	Minor uint = 5
	Patch uint = 3
)

// PreRelease may be set at link time with
// '-ldflags "-X github.com/safeblock/safed/internal/version.PreRelease=foo"'.
// Characters outside preReleaseAlphabet are dropped.
var PreRelease = ""

// String returns the application version, for example 2.5.3 or 2.5.3-rc1.
func String() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if pre := NormalizePreRelString(PreRelease); pre != "" {
		v += "-" + pre
	}
	return v
}

// Number returns the application version in the packed numeric form used by
// on-disk formats, 1000000*Major + 10000*Minor + 100*Patch.
func Number() int32 {
	return int32(1000000*Major + 10000*Minor + 100*Patch)
}

// NormalizePreRelString strips str of every character that may not appear
// in a pre-release version.
func NormalizePreRelString(str string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(preReleaseAlphabet, r) {
			return r
		}
		return -1
	}, str)
}
