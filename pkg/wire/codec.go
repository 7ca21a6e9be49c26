package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// DateLayout is the textual form dates take on the wire.
const DateLayout = "2006-01-02T15:04:05.000Z"

var dateRegex = regexp.MustCompile(`^\d\d\d\d-\d\d-\d\dT\d\d:\d\d:\d\d.\d\d\dZ$`)

// Marshal encodes v, rewriting time.Time values inside maps and slices of
// untyped values to DateLayout.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(normalize(v))
}

// Unmarshal decodes data into v. When v is *any the decoded tree is revived.
func Unmarshal(data []byte, v any) error {
	if p, ok := v.(*any); ok {
		var raw any
		if err := sonic.Unmarshal(data, &raw); err != nil {
			return err
		}
		*p = Revive(raw)
		return nil
	}
	return sonic.Unmarshal(data, v)
}

// Decode decodes data into an untyped value with dates revived.
func Decode(data []byte) (any, error) {
	var v any
	err := Unmarshal(data, &v)
	return v, err
}

// DecodeAs decodes data into a T.
func DecodeAs[T any](data []byte) (T, error) {
	var v T
	err := Unmarshal(data, &v)
	return v, err
}

// EncodeItems encodes each item separately so chunks can be cut from the
// result without re-encoding.
func EncodeItems[T any](items []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(items))
	for i, item := range items {
		b, err := Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encoding item %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// JoinChunk builds the JSON array for a run request from encoded items.
func JoinChunk(items []json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(item)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// SplitChunk is the inverse of JoinChunk.
func SplitChunk(chunk json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := sonic.Unmarshal(chunk, &items); err != nil {
		return nil, fmt.Errorf("decoding item chunk: %w", err)
	}
	return items, nil
}

// Revive replaces date-shaped strings in an untyped JSON tree with time.Time.
func Revive(v any) any {
	switch t := v.(type) {
	case string:
		if dateRegex.MatchString(t) {
			if ts, err := time.Parse(DateLayout, t); err == nil {
				return ts
			}
		}
		return t
	case []any:
		for i := range t {
			t[i] = Revive(t[i])
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = Revive(val)
		}
		return t
	default:
		return v
	}
}

func normalize(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(DateLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(DateLayout)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	}
	// Typed slices of times, e.g. []time.Time.
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem() == reflect.TypeOf(time.Time{}) {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

// Encoder writes one message per line. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v followed by a newline.
func (e *Encoder) Encode(v any) error {
	b, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(b)
	return err
}

// Decoder reads line-delimited messages.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Decode reads the next non-blank line into v. It returns io.EOF once the
// stream is exhausted.
func (d *Decoder) Decode(v any) error {
	for {
		line, err := d.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if uerr := sonic.Unmarshal(line, v); uerr != nil {
				return fmt.Errorf("decoding message: %w", uerr)
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}
