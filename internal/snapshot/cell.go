package snapshot

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

const blobMarker = "blob"

// sqliteTimeLayout matches the layout the driver uses when it writes a
// time.Time, so parsed DATETIME columns go back to their stored text.
const sqliteTimeLayout = "2006-01-02 15:04:05.999999999-07:00"

type CellKind uint8

const (
	CellNull CellKind = iota
	CellInteger
	CellReal
	CellText
	CellBlob
)

func (k CellKind) String() string {
	switch k {
	case CellNull:
		return "null"
	case CellInteger:
		return "integer"
	case CellReal:
		return "real"
	case CellText:
		return "text"
	case CellBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Cell is one column value of a row. The zero value is NULL.
type Cell struct {
	kind CellKind
	i    int64
	f    float64
	s    string
	b    []byte
}

func Null() Cell { return Cell{} }

func Integer(v int64) Cell { return Cell{kind: CellInteger, i: v} }

func Real(v float64) Cell { return Cell{kind: CellReal, f: v} }

func Text(v string) Cell { return Cell{kind: CellText, s: v} }

func Blob(v []byte) Cell {
	return Cell{kind: CellBlob, b: append([]byte{}, v...)}
}

func (c Cell) Kind() CellKind { return c.kind }

// Value returns the driver value to bind when the cell is written back.
func (c Cell) Value() any {
	switch c.kind {
	case CellInteger:
		return c.i
	case CellReal:
		return c.f
	case CellText:
		return c.s
	case CellBlob:
		return append([]byte{}, c.b...)
	default:
		return nil
	}
}

// EncodeValue maps a scanned driver value onto a cell.
func EncodeValue(v any) Cell {
	switch typed := v.(type) {
	case nil:
		return Null()
	case int64:
		return Integer(typed)
	case int:
		return Integer(int64(typed))
	case int32:
		return Integer(int64(typed))
	case int16:
		return Integer(int64(typed))
	case int8:
		return Integer(int64(typed))
	case uint32:
		return Integer(int64(typed))
	case uint16:
		return Integer(int64(typed))
	case uint8:
		return Integer(int64(typed))
	case uint64:
		if typed > math.MaxInt64 {
			return Real(float64(typed))
		}
		return Integer(int64(typed))
	case bool:
		if typed {
			return Integer(1)
		}
		return Integer(0)
	case float64:
		return Real(typed)
	case float32:
		return Real(float64(typed))
	case string:
		return Text(typed)
	case []byte:
		return Blob(typed)
	case time.Time:
		return Text(typed.Format(sqliteTimeLayout))
	default:
		return Text(fmt.Sprint(typed))
	}
}

type blobJSON struct {
	Type *string `json:"__type"`
	Data *string `json:"data"`
}

func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case CellNull:
		return []byte("null"), nil
	case CellInteger:
		return strconv.AppendInt(nil, c.i, 10), nil
	case CellReal:
		if math.IsInf(c.f, 0) || math.IsNaN(c.f) {
			return nil, fmt.Errorf("encode cell: non-finite real %v", c.f)
		}
		out := strconv.AppendFloat(nil, c.f, 'g', -1, 64)
		if !bytes.ContainsAny(out, ".eE") {
			out = append(out, ".0"...)
		}
		return out, nil
	case CellText:
		return json.Marshal(c.s)
	case CellBlob:
		marker := blobMarker
		data := base64.StdEncoding.EncodeToString(c.b)
		return json.Marshal(blobJSON{Type: &marker, Data: &data})
	default:
		return nil, fmt.Errorf("encode cell: unknown kind %d", c.kind)
	}
}

func (c *Cell) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fmt.Errorf("decode cell: empty value")
	}

	switch raw[0] {
	case 'n':
		if string(raw) != "null" {
			return fmt.Errorf("decode cell: invalid literal %q", raw)
		}
		*c = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("decode cell: %w", err)
		}
		*c = EncodeValue(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decode cell: %w", err)
		}
		*c = Text(s)
		return nil
	case '{':
		var tagged blobJSON
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&tagged); err != nil {
			return fmt.Errorf("decode cell: tagged value: %w", err)
		}
		if tagged.Type == nil || *tagged.Type != blobMarker || tagged.Data == nil {
			return fmt.Errorf("decode cell: unrecognized tagged value")
		}
		data, err := base64.StdEncoding.DecodeString(*tagged.Data)
		if err != nil {
			return fmt.Errorf("decode cell: blob data: %w", err)
		}
		*c = Blob(data)
		return nil
	case '[':
		return fmt.Errorf("decode cell: arrays are not cell values")
	}

	if bytes.ContainsAny(raw, ".eE") {
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return fmt.Errorf("decode cell: real: %w", err)
		}
		*c = Real(f)
		return nil
	}
	i, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("decode cell: integer: %w", err)
	}
	*c = Integer(i)
	return nil
}
