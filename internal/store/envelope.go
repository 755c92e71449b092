package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
)

const envelopeSchema = "lvchat.record/v1"

var errCorrupt = errors.New("store: corrupt record")

// envelope is the persisted form of a Record for byte-oriented backends. The
// value is always the last member so encodeRecord can write it verbatim.
type envelope struct {
	Schema    string          `json:"schema"`
	Key       string          `json:"key"`
	CreatedAt int64           `json:"created_at"`
	ExpiresAt *int64          `json:"expires_at,omitempty"`
	Value     json.RawMessage `json:"value"`
}

var envelopeValueField = []byte(`"value":`)

// embeddedExpiryPaths lists where callers that manage their own TTL put it.
var embeddedExpiryPaths = [][]string{
	{"expires_at"},
	{"meta", "expires_at"},
}

// newRecord validates a Put into the record that gets persisted. The value
// bytes are kept as given unless the put stamps timestamps into them. An
// expiry embedded in the value is only consulted when embedded is set and no
// ttl applies.
func newRecord(now time.Time, key string, value []byte, ttl time.Duration, embedded bool, opts []PutOption) (Record, error) {
	if err := validateKey(key); err != nil {
		return Record{}, err
	}

	var po putOptions
	for _, opt := range opts {
		opt(&po)
	}

	doc, err := checkValue(value)
	if err != nil {
		return Record{}, err
	}

	created := time.Unix(now.Unix(), 0)
	var expires time.Time
	if ttl > 0 {
		expires = time.Unix(created.Add(ttl).Unix(), 0)
	} else if embedded {
		if at, ok := embeddedExpiry(doc); ok {
			expires = at
		}
	}

	if po.stamp {
		doc, err = stampValue(doc, created, expires)
		if err != nil {
			return Record{}, err
		}
	}

	return Record{
		Key:       key,
		Value:     doc,
		CreatedAt: created,
		ExpiresAt: expires,
	}, nil
}

// checkValue accepts a single JSON document and returns a private copy of it.
func checkValue(value []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(value)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidValue)
	}
	if !json.Valid(value) {
		return nil, fmt.Errorf("%w: not a JSON document", ErrInvalidValue)
	}
	return bytes.Clone(value), nil
}

// embeddedExpiry reads a caller-managed expiry (unix seconds) from the value.
func embeddedExpiry(value []byte) (time.Time, bool) {
	for _, path := range embeddedExpiryPaths {
		raw, typ, _, err := jsonparser.Get(value, path...)
		if err != nil || typ != jsonparser.Number {
			continue
		}
		secs, err := jsonparser.ParseFloat(raw)
		if err != nil || secs <= 0 {
			continue
		}
		return time.Unix(int64(secs), 0), true
	}
	return time.Time{}, false
}

func stampValue(value []byte, created, expires time.Time) (json.RawMessage, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || value[0] != '{' {
		return nil, fmt.Errorf("%w: only JSON objects can carry timestamps", ErrInvalidValue)
	}

	stamped, err := jsonparser.Set(value, []byte(strconv.FormatInt(created.Unix(), 10)), "created_at")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	expiresRaw := []byte("null")
	if !expires.IsZero() {
		expiresRaw = []byte(strconv.FormatInt(expires.Unix(), 10))
	}
	stamped, err = jsonparser.Set(stamped, expiresRaw, "expires_at")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return stamped, nil
}

// encodeRecord writes the envelope header with encoding/json and appends the
// value bytes untouched; json.Marshal would compact a RawMessage.
func encodeRecord(rec Record) ([]byte, error) {
	head := envelope{
		Schema:    envelopeSchema,
		Key:       rec.Key,
		CreatedAt: rec.CreatedAt.Unix(),
	}
	if !rec.ExpiresAt.IsZero() {
		expires := rec.ExpiresAt.Unix()
		head.ExpiresAt = &expires
	}
	head.Value = json.RawMessage("null")

	data, err := json.Marshal(head)
	if err != nil {
		return nil, err
	}
	idx := bytes.LastIndex(data, envelopeValueField)
	if idx < 0 {
		return nil, errors.New("store: envelope header without value member")
	}

	out := make([]byte, 0, idx+len(envelopeValueField)+len(rec.Value)+1)
	out = append(out, data[:idx+len(envelopeValueField)]...)
	out = append(out, rec.Value...)
	out = append(out, '}')
	return out, nil
}

// decodeRecord parses an envelope. Documents without the envelope schema are
// legacy values written directly by an earlier deployment: the whole document is
// the value and timestamps come from embedded fields or the modification time.
// The embedded expiry of a legacy document is only honoured when embedded is set.
func decodeRecord(data []byte, key string, modTime time.Time, embedded bool) (Record, error) {
	if !json.Valid(data) {
		return Record{}, errCorrupt
	}

	if schema, err := jsonparser.GetString(data, "schema"); err == nil && schema == envelopeSchema {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Record{}, fmt.Errorf("%w: %v", errCorrupt, err)
		}
		if len(env.Value) == 0 {
			return Record{}, fmt.Errorf("%w: missing value", errCorrupt)
		}

		value := verbatimValue(data)
		if value == nil {
			value = env.Value
		}
		rec := Record{
			Key:       key,
			Value:     bytes.Clone(value),
			CreatedAt: time.Unix(env.CreatedAt, 0),
		}
		if env.ExpiresAt != nil {
			rec.ExpiresAt = time.Unix(*env.ExpiresAt, 0)
		}
		return rec, nil
	}

	rec := Record{Key: key, Value: bytes.Clone(data), CreatedAt: modTime}
	if created, err := jsonparser.GetInt(data, "created_at"); err == nil && created > 0 {
		rec.CreatedAt = time.Unix(created, 0)
	}
	if embedded {
		if expires, ok := embeddedExpiry(data); ok {
			rec.ExpiresAt = expires
		}
	}
	return rec, nil
}

// verbatimValue returns the bytes between the value member name and the closing
// brace of an envelope laid out by encodeRecord. Envelopes with another member
// order yield nil. Keys are JSON-escaped, so the first unescaped `"value":`
// belongs to the envelope itself.
func verbatimValue(data []byte) []byte {
	data = bytes.TrimRight(data, " \t\r\n")
	if len(data) == 0 || data[len(data)-1] != '}' {
		return nil
	}
	idx := bytes.Index(data, envelopeValueField)
	if idx < 0 {
		return nil
	}
	value := data[idx+len(envelopeValueField) : len(data)-1]
	if !json.Valid(value) {
		return nil
	}
	return value
}
