package model

import (
	"strconv"
	"strings"
	"time"
)

// Timeframe is a candle period from the closed registration table below.
// The zero value is not a valid timeframe.
type Timeframe struct {
	name string
	secs int64
}

// registered timeframes, ascending by period.
var timeframes = []Timeframe{
	{"1s", 1},
	{"5s", 5},
	{"15s", 15},
	{"30s", 30},
	{"1m", 60},
	{"3m", 180},
	{"5m", 300},
	{"15m", 900},
	{"30m", 1800},
	{"1h", 3600},
	{"2h", 7200},
	{"4h", 14400},
	{"1d", 86400},
	{"1w", 604800},
}

var (
	tfByName = indexTimeframes()

	TF1m = MustTimeframe("1m")
	TF5m = MustTimeframe("5m")
	TF1h = MustTimeframe("1h")
	TF1d = MustTimeframe("1d")
)

func indexTimeframes() map[string]Timeframe {
	m := make(map[string]Timeframe, len(timeframes)*2)
	for _, tf := range timeframes {
		m[tf.name] = tf
		// Seconds aliases ("60", "60s") keep the old ENABLED_TFS format working.
		secs := strconv.FormatInt(tf.secs, 10)
		m[secs] = tf
		m[secs+"s"] = tf
	}
	return m
}

// ParseTimeframe looks up a timeframe by name ("5m") or by its period in seconds ("300").
func ParseTimeframe(s string) (Timeframe, error) {
	tf, ok := tfByName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return Timeframe{}, Errorf(KindUnknownTimeframe, "unknown timeframe %q", s)
	}
	return tf, nil
}

// MustTimeframe is ParseTimeframe for package-level constants and tests.
func MustTimeframe(s string) Timeframe {
	tf, err := ParseTimeframe(s)
	if err != nil {
		panic(err)
	}
	return tf
}

// Timeframes returns every registered timeframe, shortest first.
func Timeframes() []Timeframe {
	out := make([]Timeframe, len(timeframes))
	copy(out, timeframes)
	return out
}

func (tf Timeframe) String() string          { return tf.name }
func (tf Timeframe) Seconds() int64          { return tf.secs }
func (tf Timeframe) Duration() time.Duration { return time.Duration(tf.secs) * time.Second }
func (tf Timeframe) IsZero() bool            { return tf.secs == 0 }

// Bucket returns floor(ts/P)*P as a UTC time.
func (tf Timeframe) Bucket(ts time.Time) time.Time {
	return time.Unix(tf.BucketUnix(ts.Unix()), 0).UTC()
}

// BucketUnix is Bucket on unix seconds. Floors toward negative infinity.
func (tf Timeframe) BucketUnix(unix int64) int64 {
	rem := unix % tf.secs
	if rem < 0 {
		rem += tf.secs
	}
	return unix - rem
}

// Divides reports whether every bucket of tf starts on a bucket boundary of other,
// i.e. candles of tf can be resampled into other.
func (tf Timeframe) Divides(other Timeframe) bool {
	return !tf.IsZero() && other.secs >= tf.secs && other.secs%tf.secs == 0
}

func (tf Timeframe) MarshalText() ([]byte, error) {
	return []byte(tf.name), nil
}

func (tf *Timeframe) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeframe(string(b))
	if err != nil {
		return err
	}
	*tf = parsed
	return nil
}
