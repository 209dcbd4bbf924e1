package utils

import (
	"math/rand"
	"strconv"
)

// NewCorrelationID synthesizes a sortable numeric id from the current UTC
// epoch milliseconds concatenated with a random three digit suffix. Ids
// minted in a later millisecond always compare greater; within the same
// millisecond the random suffix only disambiguates, it does not order.
func NewCorrelationID() int64 {
	millis := Now().UnixMilli()
	suffix := int64(rand.Intn(1000))
	id, err := strconv.ParseInt(strconv.FormatInt(millis, 10)+padSuffix(suffix), 10, 64)
	if err != nil {
		// Cannot happen for any epoch before the year 287396.
		return millis*1000 + suffix
	}
	return id
}

// CorrelationIDMillis recovers the epoch milliseconds a correlation id was
// minted at by stripping the random suffix.
func CorrelationIDMillis(id int64) int64 {
	return id / 1000
}

func padSuffix(n int64) string {
	s := strconv.FormatInt(n, 10)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
