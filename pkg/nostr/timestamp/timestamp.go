package timestamp

import "time"

// T is a UNIX timestamp in seconds as found in the created_at field of
// events and the since/until fields of filters.
type T int64

// Now returns the current UNIX timestamp.
func Now() T {
	return T(time.Now().Unix())
}

// Time converts the timestamp to a time.Time.
func (t T) Time() time.Time {
	return time.Unix(int64(t), 0)
}

// FromTime converts a time.Time to a timestamp.
func FromTime(t time.Time) T {
	return T(t.Unix())
}

// I64 returns the timestamp as a plain int64.
func (t T) I64() int64 { return int64(t) }
