package sink

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PartitionedKey builds an hourly partitioned, collision-free object key:
// <name>/yyyy/mm/dd/hh/<unixnano>-<uuid><ext>.
func PartitionedKey(name string, now time.Time, ext string) string {
	if ext == "" || ext[0] != '.' {
		ext = ".bin"
	}
	now = now.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%02d/%d-%s%s",
		name, now.Year(), int(now.Month()), now.Day(), now.Hour(), now.UnixNano(), uuid.NewString(), ext,
	)
}
