package rtc

// timestampUnwrapper extends 32-bit RTP timestamps to int64 across wraparound.
type timestampUnwrapper struct {
	last    uint32
	cycles  int64
	started bool
}

func (u *timestampUnwrapper) unwrap(ts uint32) int64 {
	if u.started {
		diff := int32(ts - u.last)
		switch {
		case diff > 0 && ts < u.last:
			u.cycles++
		case diff < 0 && ts > u.last:
			u.cycles--
		}
	}
	u.last = ts
	u.started = true
	return u.cycles<<32 + int64(ts)
}
