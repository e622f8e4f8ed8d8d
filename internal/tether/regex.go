package tether

import (
	"regexp"
	"sync"
)

// compiledRegexCache avoids recompiling the same pattern on every interface
// classification; TetheringConfig snapshots are replaced wholesale but tend
// to reuse the same small set of patterns across reloads.
var compiledRegexCache sync.Map // map[string]*regexp.Regexp

func compile(pattern string) *regexp.Regexp {
	if v, ok := compiledRegexCache.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		// An invalid pattern matches nothing rather than panicking; config
		// validation does not check the patterns.
		re = regexp.MustCompile(`$^`)
	}
	compiledRegexCache.Store(pattern, re)
	return re
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if compile(p).MatchString(name) {
			return true
		}
	}
	return false
}
