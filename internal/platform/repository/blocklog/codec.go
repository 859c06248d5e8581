package blocklog

import (
	"encoding/json"
	"errors"
	"fmt"

	"BlockDB/internal/domain"
	"BlockDB/internal/platform/utils"
)

var errEmptyRecordLine = errors.New("empty line")

// parsedLine is the decoded form of one block line. id is canonical: strings
// stay strings, integral numbers become int64.
type parsedLine struct {
	rec domain.Record
	id  any
	seq int64
	rid int64
	oid int64
}

// marshalRecord overlays the reserved fields on value and serializes the
// result to a single JSON line without the trailing newline. Reserved keys
// already present on value are overridden. A nil value yields a tombstone
// shaped line carrying only the id and metadata. Key ordering follows
// json.Marshal's sorted map keys, so repeated serializations of the same
// record produce identical bytes.
func marshalRecord(id any, value domain.Record, seq, rid, oid int64) ([]byte, domain.Record, error) {
	rec := make(domain.Record, len(value)+4)
	for k, v := range value {
		rec[k] = v
	}
	rec[domain.FieldID] = id
	rec[domain.FieldSeq] = seq
	rec[domain.FieldRid] = rid
	rec[domain.FieldOid] = oid
	line, err := json.Marshal(rec)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return line, rec, nil
}

// parseLine decodes one block line and validates the reserved fields.
func parseLine(bid string, lineNo int, line string) (*parsedLine, error) {
	if len(line) == 0 {
		return nil, &RecordError{Bid: bid, LineNo: lineNo, Cause: errEmptyRecordLine}
	}
	var rec domain.Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, &RecordError{Bid: bid, LineNo: lineNo, Cause: err}
	}
	id, ok := canonicalID(rec[domain.FieldID])
	if !ok {
		return nil, &RecordError{Bid: bid, LineNo: lineNo,
			Cause: fmt.Errorf("field %q missing or not a string/integer", domain.FieldID)}
	}
	p := &parsedLine{rec: rec, id: id}
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{domain.FieldSeq, &p.seq},
		{domain.FieldRid, &p.rid},
		{domain.FieldOid, &p.oid},
	} {
		n, ok := intField(rec, f.name)
		if !ok {
			return nil, &RecordError{Bid: bid, LineNo: lineNo,
				Cause: fmt.Errorf("field %q missing or not an integer", f.name)}
		}
		*f.dst = n
	}
	return p, nil
}

// canonicalID maps an id to its canonical in-memory form. It accepts
// non-empty strings, the signed integer types, the unsigned integer types up
// to uint32 plus uint, and integral float64 values (the JSON decoder's number
// shape). uint64, float32 and every other type are rejected.
func canonicalID(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil, false
		}
		return x, true
	case float64:
		if !utils.IsIntegral(x) {
			return nil, false
		}
		return int64(x), true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	}
	return nil, false
}

func intField(rec domain.Record, name string) (int64, bool) {
	f, ok := rec[name].(float64)
	if !ok || !utils.IsIntegral(f) {
		return 0, false
	}
	return int64(f), true
}

// projectCache extracts the configured cache fields from rec. Missing fields
// are silently omitted. Returns nil when no fields are configured.
func projectCache(rec domain.Record, fields []string) domain.Record {
	if len(fields) == 0 {
		return nil
	}
	out := make(domain.Record, len(fields))
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}
