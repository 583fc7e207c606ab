package utils

import (
	"strconv"
	"time"
)

// Clock supplies the current time; threaded through engine constructors so
// delay math is deterministic in tests.
type Clock func() time.Time

// ParseUint safely parses a string to uint
func ParseUint(s string) uint {
	i, _ := strconv.ParseUint(s, 10, 32)
	return uint(i)
}
