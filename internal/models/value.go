package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValueKind tags the variant held by a Value
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// WireTimeFormat is the timestamp layout used on the wire and in local storage
const WireTimeFormat = "2006-01-02T15:04:05.000Z"

// Value is a wire scalar: string, number, bool or null
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
}

// NullValue returns the null variant
func NullValue() Value {
	return Value{kind: KindNull}
}

// StringValue wraps a string
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// NumberValue wraps a number
func NumberValue(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// IntValue wraps an integer as a number
func IntValue(i int64) Value {
	return Value{kind: KindNumber, num: float64(i)}
}

// BoolValue wraps a bool
func BoolValue(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// TimeValue renders t as a wire timestamp string
func TimeValue(t time.Time) Value {
	return StringValue(FormatWireTime(t))
}

func (v Value) Kind() ValueKind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// FormatWireTime renders t as ISO-8601 UTC with millisecond precision
func FormatWireTime(t time.Time) string {
	return t.UTC().Format(WireTimeFormat)
}

// ParseWireTime accepts RFC 3339 timestamps with or without fractional seconds
func ParseWireTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (v Value) typeError(want string) error {
	return fmt.Errorf("%w: want %s, got %s", ErrValueType, want, v.kind)
}

// AsString returns the string variant
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.typeError("string")
	}
	return v.str, nil
}

// AsFloat64 returns the number variant
func (v Value) AsFloat64() (float64, error) {
	if v.kind != KindNumber {
		return 0, v.typeError("number")
	}
	return v.num, nil
}

// AsInt64 returns the number variant when it holds an integral value
func (v Value) AsInt64() (int64, error) {
	if v.kind != KindNumber {
		return 0, v.typeError("number")
	}
	if v.num != math.Trunc(v.num) || math.IsInf(v.num, 0) {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrValueType, v.num)
	}
	return int64(v.num), nil
}

// AsBool returns the bool variant. Numeric 0 and 1 are accepted as well.
func (v Value) AsBool() (bool, error) {
	switch v.kind {
	case KindBool:
		return v.b, nil
	case KindNumber:
		switch v.num {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	}
	return false, v.typeError("bool")
}

// AsTime parses the string variant as a wire timestamp
func (v Value) AsTime() (time.Time, error) {
	s, err := v.AsString()
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseWireTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a timestamp", ErrValueType, s)
	}
	return t, nil
}

// AsUUID parses the string variant as a UUID and returns it lower-cased
func (v Value) AsUUID() (string, error) {
	s, err := v.AsString()
	if err != nil {
		return "", err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a uuid", ErrValueType, s)
	}
	return id.String(), nil
}

// Equal compares kind and content
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	}
	return true
}

// String renders the value for previews and diffs
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return "null"
}

// MarshalYAML renders the value as its plain scalar
func (v Value) MarshalYAML() (interface{}, error) {
	switch v.kind {
	case KindString:
		return v.str, nil
	case KindNumber:
		return v.num, nil
	case KindBool:
		return v.b, nil
	}
	return nil, nil
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler. Arrays and objects are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrUnsupportedValueJSON
	}
	switch data[0] {
	case 'n':
		*v = NullValue()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	case '[', '{':
		return ErrUnsupportedValueJSON
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = NumberValue(f)
	return nil
}

// Doc is a server row snapshot keyed by column name
type Doc map[string]Value

// String returns the string column or "" when absent or not a string
func (d Doc) String(key string) string {
	v, ok := d[key]
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

// Bool reports whether the column is present and true
func (d Doc) Bool(key string) bool {
	v, ok := d[key]
	if !ok {
		return false
	}
	b, err := v.AsBool()
	return err == nil && b
}

// Int64 returns the integer column and whether it was present and integral
func (d Doc) Int64(key string) (int64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	i, err := v.AsInt64()
	return i, err == nil
}

// Time returns the timestamp column and whether it parsed
func (d Doc) Time(key string) (time.Time, bool) {
	v, ok := d[key]
	if !ok {
		return time.Time{}, false
	}
	t, err := v.AsTime()
	return t, err == nil
}

// SortedKeys returns the column names in lexical order
func (d Doc) SortedKeys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Payload is an ordered column -> value mapping
type Payload struct {
	keys   []string
	values map[string]Value
}

// NewPayload creates an empty payload
func NewPayload() *Payload {
	return &Payload{values: make(map[string]Value)}
}

// PayloadFromDoc builds a payload with keys in lexical order
func PayloadFromDoc(d Doc) *Payload {
	p := NewPayload()
	for _, k := range d.SortedKeys() {
		p.Set(k, d[k])
	}
	return p
}

// Set stores a value. Overwriting keeps the original key position.
func (p *Payload) Set(key string, v Value) *Payload {
	if p.values == nil {
		p.values = make(map[string]Value)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
	return p
}

// Get returns the value for key
func (p *Payload) Get(key string) (Value, bool) {
	if p == nil || p.values == nil {
		return Value{}, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the keys in insertion order
func (p *Payload) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of columns
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Merge copies every column of other into p; other wins on shared keys
func (p *Payload) Merge(other *Payload) *Payload {
	if other == nil {
		return p
	}
	for _, k := range other.keys {
		p.Set(k, other.values[k])
	}
	return p
}

// Clone returns a deep copy
func (p *Payload) Clone() *Payload {
	out := NewPayload()
	return out.Merge(p)
}

// Doc returns the payload as an unordered doc
func (p *Payload) Doc() Doc {
	d := make(Doc, p.Len())
	if p == nil {
		return d
	}
	for _, k := range p.keys {
		d[k] = p.values[k]
	}
	return d
}

// MarshalJSON writes the columns in insertion order
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if p != nil {
		for i, k := range p.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := p.values[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object preserving key order
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = Payload{values: make(map[string]Value)}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("payload must be a JSON object")
	}
	out := NewPayload()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("payload key must be a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("payload column %s: %w", key, err)
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = *out
	return nil
}

// NormalizeID lower-cases and trims an id for comparison with server ids
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
