package ingest

import (
	"fmt"
	"sort"
	"strings"
)

// KeyError reports mandatory payload keys that are missing.
type KeyError struct {
	Keys []string
}

func (e *KeyError) Error() string {
	keys := append([]string(nil), e.Keys...)
	sort.Strings(keys)
	return fmt.Sprintf("payload missing mandatory keys: %s", strings.Join(keys, ", "))
}

// TypeError reports a payload value with the wrong JSON type.
type TypeError struct {
	Key  string
	Want string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("payload key %q is not a valid %s", e.Key, e.Want)
}

// TimestampError reports a publisher timestamp in none of the accepted formats.
type TimestampError struct {
	Value string
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("unknown timestamp format: %q", e.Value)
}

// MACError reports a MAC address that cannot be canonicalized.
type MACError struct {
	Value string
}

func (e *MACError) Error() string {
	return fmt.Sprintf("malformed MAC address: %q", e.Value)
}
