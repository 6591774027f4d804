package cache

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// Key derives a stable cache key from a namespace and the identifying inputs
// of a call (endpoint, credentials, parameters). Map parameters hash the
// same regardless of insertion order.
func Key(namespace string, parts ...any) string {
	h := xxhash.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{0})
		}
		b, err := json.Marshal(p)
		if err != nil {
			b = []byte(fmt.Sprintf("%#v", p))
		}
		_, _ = h.Write(b)
	}
	return namespace + ":" + strconv.FormatUint(h.Sum64(), 16)
}
