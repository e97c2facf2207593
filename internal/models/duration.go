package models

import (
	"strconv"
	"time"
)

// DurationMS is a duration carried as integer milliseconds on the wire.
// Fields whose json tag ends in _ms use this type so the encoded value
// matches the unit the tag promises.
type DurationMS time.Duration

// Duration converts back to the stdlib representation.
func (d DurationMS) Duration() time.Duration { return time.Duration(d) }

func (d DurationMS) String() string { return time.Duration(d).String() }

// MarshalJSON encodes the duration as whole milliseconds.
func (d DurationMS) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, time.Duration(d).Milliseconds(), 10), nil
}

// UnmarshalJSON decodes whole milliseconds.
func (d *DurationMS) UnmarshalJSON(data []byte) error {
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*d = DurationMS(time.Duration(ms) * time.Millisecond)
	return nil
}
