package ingest

import (
	"bytes"
	"encoding/json"
)

// Mandatory keys per payload schema. A TESS4C payload is detected by the
// presence of F4; filter substructures carry their own mandatory keys.
var (
	mandatoryReadTESSW  = []string{"seq", "name", "freq", "mag", "tamb", "tsky", "rev"}
	mandatoryReadTESS4C = []string{"seq", "name", "tamb", "tsky", "rev", "F1", "F2", "F3", "F4"}
	mandatoryRegrTESSW  = []string{"name", "mac", "calib", "rev"}
	mandatoryRegrTESS4C = []string{"name", "mac", "rev", "F1", "F2", "F3", "F4"}

	filterKeys = []string{"F1", "F2", "F3", "F4"}
)

// payload is a decoded JSON object. Numbers are kept as json.Number so that
// integer and float fields can be told apart.
type payload map[string]any

func decodePayload(data []byte) (payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// isTESS4C reports whether the payload uses the four-channel schema.
func (p payload) isTESS4C() bool {
	_, ok := p["F4"]
	return ok
}

func (p payload) missing(keys []string) []string {
	var miss []string
	for _, k := range keys {
		if _, ok := p[k]; !ok {
			miss = append(miss, k)
		}
	}
	return miss
}

func (p payload) str(key string) (string, error) {
	s, ok := p[key].(string)
	if !ok {
		return "", &TypeError{Key: key, Want: "string"}
	}
	return s, nil
}

// integer extracts a JSON number that must be integral.
func (p payload) integer(key string) (int64, error) {
	n, ok := p[key].(json.Number)
	if !ok {
		return 0, &TypeError{Key: key, Want: "int"}
	}
	v, err := n.Int64()
	if err != nil {
		return 0, &TypeError{Key: key, Want: "int"}
	}
	return v, nil
}

// float extracts a JSON number. Integral values are accepted and widened,
// matching the original coercion of integer calibration constants.
func (p payload) float(key string) (float64, error) {
	n, ok := p[key].(json.Number)
	if !ok {
		return 0, &TypeError{Key: key, Want: "float"}
	}
	v, err := n.Float64()
	if err != nil {
		return 0, &TypeError{Key: key, Want: "float"}
	}
	return v, nil
}

func (p payload) optFloat(key string) (*float64, error) {
	if _, ok := p[key]; !ok {
		return nil, nil
	}
	v, err := p.float(key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (p payload) optInt(key string) (*int, error) {
	if _, ok := p[key]; !ok {
		return nil, nil
	}
	v, err := p.integer(key)
	if err != nil {
		return nil, err
	}
	i := int(v)
	return &i, nil
}

func (p payload) optStr(key string) (*string, error) {
	if _, ok := p[key]; !ok {
		return nil, nil
	}
	s, err := p.str(key)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// object extracts a nested JSON object (the F1..F4 substructures).
func (p payload) object(key string) (payload, error) {
	m, ok := p[key].(map[string]any)
	if !ok {
		return nil, &TypeError{Key: key, Want: "object"}
	}
	return payload(m), nil
}

// parseReading validates a reading payload and builds the normalized record.
// The name is lowercased here; timestamping is the caller's job.
func parseReading(p payload) (*Reading, error) {
	mandatory := mandatoryReadTESSW
	if p.isTESS4C() {
		mandatory = mandatoryReadTESS4C
	}
	if miss := p.missing(mandatory); len(miss) > 0 {
		return nil, &KeyError{Keys: miss}
	}

	r := &Reading{}
	var err error
	if r.Name, err = p.str("name"); err != nil {
		return nil, err
	}
	r.Name = lowerName(r.Name)
	if r.Seq, err = p.integer("seq"); err != nil {
		return nil, err
	}
	rev, err := p.integer("rev")
	if err != nil {
		return nil, err
	}
	r.Rev = int(rev)
	if r.Tamb, err = p.float("tamb"); err != nil {
		return nil, err
	}
	if r.Tsky, err = p.float("tsky"); err != nil {
		return nil, err
	}

	if p.isTESS4C() {
		for _, fk := range filterKeys {
			sub, err := p.object(fk)
			if err != nil {
				return nil, err
			}
			if miss := sub.missing([]string{"freq", "mag", "zp"}); len(miss) > 0 {
				return nil, &KeyError{Keys: prefixKeys(fk, miss)}
			}
			var ch Channel
			if ch.Freq, err = sub.float("freq"); err != nil {
				return nil, err
			}
			if ch.Mag, err = sub.float("mag"); err != nil {
				return nil, err
			}
			if _, err = sub.float("zp"); err != nil {
				return nil, err
			}
			r.Channels = append(r.Channels, ch)
		}
	} else {
		var ch Channel
		if ch.Freq, err = p.float("freq"); err != nil {
			return nil, err
		}
		if ch.Mag, err = p.float("mag"); err != nil {
			return nil, err
		}
		r.Channels = []Channel{ch}
	}

	if err := parseCommonOptionals(p, r); err != nil {
		return nil, err
	}
	return r, nil
}

func parseCommonOptionals(p payload, r *Reading) error {
	var err error
	if r.Az, err = p.optFloat("az"); err != nil {
		return err
	}
	if r.Alt, err = p.optFloat("alt"); err != nil {
		return err
	}
	if r.Long, err = p.optFloat("long"); err != nil {
		return err
	}
	if r.Lat, err = p.optFloat("lat"); err != nil {
		return err
	}
	if r.Height, err = p.optFloat("height"); err != nil {
		return err
	}
	if r.WdBm, err = p.optInt("wdBm"); err != nil {
		return err
	}
	if r.Hash, err = p.optStr("hash"); err != nil {
		return err
	}
	return nil
}

// parseRegistration validates a registration payload and builds the
// normalized record with a canonical MAC address.
func parseRegistration(p payload) (*Registration, error) {
	mandatory := mandatoryRegrTESSW
	if p.isTESS4C() {
		mandatory = mandatoryRegrTESS4C
	}
	if miss := p.missing(mandatory); len(miss) > 0 {
		return nil, &KeyError{Keys: miss}
	}

	reg := &Registration{}
	var err error
	if reg.Name, err = p.str("name"); err != nil {
		return nil, err
	}
	reg.Name = lowerName(reg.Name)
	rawMAC, err := p.str("mac")
	if err != nil {
		return nil, err
	}
	if reg.MAC, err = FormatMAC(rawMAC); err != nil {
		return nil, err
	}
	rev, err := p.integer("rev")
	if err != nil {
		return nil, err
	}
	reg.Rev = int(rev)
	fw, err := p.optStr("firmware")
	if err != nil {
		return nil, err
	}
	if fw != nil {
		reg.Firmware = *fw
	}

	if p.isTESS4C() {
		for _, fk := range filterKeys {
			sub, err := p.object(fk)
			if err != nil {
				return nil, err
			}
			if miss := sub.missing([]string{"band", "calib"}); len(miss) > 0 {
				return nil, &KeyError{Keys: prefixKeys(fk, miss)}
			}
			var b Band
			if b.Band, err = sub.str("band"); err != nil {
				return nil, err
			}
			if b.Calib, err = sub.float("calib"); err != nil {
				return nil, err
			}
			reg.Bands = append(reg.Bands, b)
		}
	} else {
		calib, err := p.float("calib")
		if err != nil {
			return nil, err
		}
		reg.Bands = []Band{{Calib: calib}}
	}
	return reg, nil
}

func prefixKeys(prefix string, keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = prefix + "." + k
	}
	return out
}
