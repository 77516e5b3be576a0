package cache

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// FingerprintFields serializes a set of named query parameters into a
// deterministic string. Keys are sorted so two logically equal parameter sets
// always produce the same fingerprint regardless of construction order.
func FingerprintFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

// SetField canonicalizes a set-valued field: values are sorted before
// joining, so element order never affects the fingerprint.
func SetField(values []string) string {
	if len(values) == 0 {
		return ""
	}
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// ChatIDsKey derives a fixed-size cache key from a set of chat IDs. IDs are
// sorted first so the key is independent of input order.
func ChatIDsKey(ids []int64) string {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	h := fnv.New64a()
	for _, id := range sorted {
		h.Write([]byte(strconv.FormatInt(id, 10)))
		h.Write([]byte{','})
	}
	return fmt.Sprintf("chats:%x", h.Sum64())
}
