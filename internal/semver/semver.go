// Package semver implements the loose version ordering used for modpack
// release labels. Pack versions are usually plain "1.2.3" strings but may
// carry a "v" prefix or a pre-release suffix ("1.2.3-beta2").
package semver

import (
	"strconv"
	"strings"
)

// Parse splits a version label into numeric dot components and an optional
// pre-release suffix. Labels that are not dot-numeric at all return nil parts
// and are ordered by raw string comparison in Compare.
func Parse(v string) (parts []int, pre string) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")

	// Split off a pre-release suffix only when the text before the hyphen is
	// numeric, so labels like "nightly-build" stay intact.
	if idx := strings.IndexByte(v, '-'); idx > 0 {
		head := v[:idx]
		if dot := strings.IndexByte(head, '.'); dot > 0 {
			head = head[:dot]
		}
		if _, err := strconv.Atoi(head); err == nil {
			pre = v[idx+1:]
			v = v[:idx]
		}
	}

	for _, s := range strings.Split(v, ".") {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, pre
		}
		parts = append(parts, n)
	}
	return parts, pre
}

// Compare orders two version labels. Returns -1 if a < b, 0 if equal, +1 if
// a > b. A pre-release sorts before its release; numeric versions sort above
// labels that are not versions at all.
func Compare(a, b string) int {
	aParts, aPre := Parse(a)
	bParts, bPre := Parse(b)

	if aParts == nil && bParts == nil {
		return strings.Compare(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	if aParts == nil {
		return -1
	}
	if bParts == nil {
		return 1
	}

	n := len(aParts)
	if len(bParts) > n {
		n = len(bParts)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(aParts) {
			av = aParts[i]
		}
		if i < len(bParts) {
			bv = bParts[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}

	switch {
	case aPre == bPre:
		return 0
	case aPre != "" && bPre == "":
		return -1
	case aPre == "" && bPre != "":
		return 1
	default:
		return strings.Compare(aPre, bPre)
	}
}
