package ingest

import (
	"strings"
	"time"
)

// Timestamp formats accepted from publishers, in probe order.
var tstampFormats = []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"}

// MaxTstampSkew is the publisher/subscriber clock difference above which a
// warning is logged. Skewed readings are kept.
const MaxTstampSkew = 60 * time.Second

// lowerName strips the upper-case variants some photometers announce with.
func lowerName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// FormatMAC canonicalizes a MAC address to colon-separated upper-case
// six-byte hexadecimal form. Separators ':' and '-' are accepted, as are 12
// contiguous hex digits; octets may omit a leading zero.
func FormatMAC(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	var octets []string

	switch {
	case strings.ContainsAny(s, ":-"):
		octets = strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	case len(s) == 12:
		for i := 0; i < 12; i += 2 {
			octets = append(octets, s[i:i+2])
		}
	default:
		return "", &MACError{Value: raw}
	}

	if len(octets) != 6 {
		return "", &MACError{Value: raw}
	}
	out := make([]string, 6)
	for i, o := range octets {
		if len(o) == 1 {
			o = "0" + o
		}
		if len(o) != 2 || !isHex(o[0]) || !isHex(o[1]) {
			return "", &MACError{Value: raw}
		}
		out[i] = strings.ToUpper(o)
	}
	return strings.Join(out, ":"), nil
}

func isHex(b byte) bool {
	switch {
	case b >= '0' && b <= '9':
		return true
	case b >= 'a' && b <= 'f':
		return true
	case b >= 'A' && b <= 'F':
		return true
	}
	return false
}

// resolveTimestamp determines the timestamp and its source for a payload.
// Without a publisher tstamp the subscriber clock is used. Publisher
// timestamps are probed against the accepted formats and interpreted as UTC.
// The skew between both clocks is returned so the caller can log it; a
// skewed timestamp is never a reason to drop.
func resolveTimestamp(p payload, now time.Time) (ts time.Time, src TimestampSource, skew time.Duration, err error) {
	raw, ok := p["tstamp"]
	if !ok {
		return now, SourceSubscriber, 0, nil
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, "", 0, &TypeError{Key: "tstamp", Want: "string"}
	}
	for _, layout := range tstampFormats {
		t, perr := time.ParseInLocation(layout, s, time.UTC)
		if perr == nil {
			skew = now.Sub(t)
			if skew < 0 {
				skew = -skew
			}
			return t, SourcePublisher, skew, nil
		}
	}
	return time.Time{}, "", 0, &TimestampError{Value: s}
}
