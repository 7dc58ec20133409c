package utils

// MatchTarget checks if the given target string matches the provided glob
// pattern. Patterns may include the wildcard '*', which matches any sequence
// of characters up to the next '/' separator. A trailing "/*" matches the
// whole subtree, so "tool:pdf/*" matches "tool:pdf/read" and
// "tool:pdf/ocr/scan" but not "tool:image/read".
func MatchTarget(target, pattern string) bool {
	if pattern == "*" {
		return true
	}
	return matchPattern(target, pattern)
}

// MatchAny reports whether the target matches at least one of the patterns
func MatchAny(target string, patterns []string) bool {
	for _, p := range patterns {
		if MatchTarget(target, p) {
			return true
		}
	}
	return false
}

// matchPattern matches a plain value against a pattern containing '*'
// wildcards. Wildcards match until the next '/' except in trailing
// position, where '*' consumes the remainder; a trailing "/*" therefore
// matches the whole subtree.
func matchPattern(value, pattern string) bool {
	vIndex, pIndex := 0, 0
	vLen, pLen := len(value), len(pattern)

	for pIndex < pLen {
		switch pattern[pIndex] {
		case '*':
			// '*' in final position matches the remainder
			if pIndex == pLen-1 {
				return true
			}
			// Match until next '/' or end of value
			for vIndex < vLen && value[vIndex] != '/' {
				vIndex++
			}
			pIndex++
		default:
			if vIndex < vLen && pattern[pIndex] == value[vIndex] {
				vIndex++
				pIndex++
			} else {
				return false
			}
		}
	}

	return vIndex == vLen
}
