// Clients list keys with glob patterns (`user:*`, `session:??`); the following module implements glob matching.

package scan

import (
	"iter"

	"github.com/tidwall/match"
)

// MatchGlob lazily filters the `keys` stream down to the keys matching `pattern` as a whole. `*` matches any run of
// characters, `/` included, `?` matches one character and `\` escapes the next one, as in Redis KEYS.
func MatchGlob(pattern string, keys iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for key := range keys {
			if match.Match(key, pattern) && !yield(key) {
				return
			}
		}
	}
}
