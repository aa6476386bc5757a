package host

import "time"

// Clock reports chain time in seconds since the epoch.
type Clock interface {
	UnixTimestamp() int64
}

type SystemClock struct{}

func (SystemClock) UnixTimestamp() int64 {
	return time.Now().Unix()
}

type FixedClock int64

func (c FixedClock) UnixTimestamp() int64 {
	return int64(c)
}
