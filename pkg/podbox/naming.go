package podbox

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

var nameCounter atomic.Uint64

// UniqueName returns "<prefix>-<8 hex chars>", distinct on every call, so
// parallel test runs against the same engine don't collide on container
// names.
func UniqueName(prefix string) string {
	seed := fmt.Sprintf("%d-%d-%d", os.Getpid(), time.Now().UnixNano(), nameCounter.Add(1))
	sum := md5.Sum([]byte(seed))
	return prefix + "-" + hex.EncodeToString(sum[:])[:8]
}
