package snapshot

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func TestEncodeValueMapsDriverTypes(t *testing.T) {
	t.Parallel()

	require.Equal(t, CellNull, EncodeValue(nil).Kind())
	require.Equal(t, Integer(42), EncodeValue(int64(42)))
	require.Equal(t, Integer(1), EncodeValue(true))
	require.Equal(t, Integer(0), EncodeValue(false))
	require.Equal(t, Real(1.5), EncodeValue(1.5))
	require.Equal(t, Text("hello"), EncodeValue("hello"))
	require.Equal(t, Blob([]byte{0x00, 0xff}), EncodeValue([]byte{0x00, 0xff}))

	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	require.Equal(t, Text("2026-03-01 12:30:00+00:00"), EncodeValue(ts))
}

func TestBlobCellCopiesInput(t *testing.T) {
	t.Parallel()

	raw := []byte("abc")
	cell := EncodeValue(raw)
	raw[0] = 'z'
	require.Equal(t, []byte("abc"), cell.Value())
}

func TestCellValueRoundTripsThroughCodec(t *testing.T) {
	t.Parallel()

	values := []any{nil, int64(-7), 3.25, "text", []byte{1, 2, 3}}
	for _, value := range values {
		require.Equal(t, value, EncodeValue(value).Value())
	}
}

func TestCellJSONDistinguishesBlobFromLookalikeText(t *testing.T) {
	t.Parallel()

	lookalike := `{"__type":"blob","data":"AAEC"}`
	cells := []Cell{Text(lookalike), Blob([]byte{0, 1, 2}), Null(), Integer(9), Real(2)}

	raw, err := json.Marshal(cells)
	require.NoError(t, err)

	var decoded []Cell
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, cells, decoded)
	require.Equal(t, CellText, decoded[0].Kind())
	require.Equal(t, CellBlob, decoded[1].Kind())
	require.Equal(t, CellReal, decoded[4].Kind())
}

func TestCellJSONRejectsUnknownTaggedObject(t *testing.T) {
	t.Parallel()

	var cell Cell
	require.Error(t, json.Unmarshal([]byte(`{"__type":"date","data":"x"}`), &cell))
	require.Error(t, json.Unmarshal([]byte(`{"__type":"blob","data":"AA==","extra":1}`), &cell))
	require.Error(t, json.Unmarshal([]byte(`[1]`), &cell))
}

func TestCellJSONRejectsNonFiniteReal(t *testing.T) {
	t.Parallel()

	_, err := json.Marshal(Real(math.Inf(1)))
	require.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	original := sampleSnapshot()
	payload, err := Encode(original)
	require.NoError(t, err)
	require.True(t, len(payload) > 2 && payload[0] == 0x1f && payload[1] == 0x8b, "payload must be gzip")

	decoded, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestEncodeEmptySnapshotDecodesToEmptyCollections(t *testing.T) {
	t.Parallel()

	payload, err := Encode(&Snapshot{Metadata: Metadata{EngineVersion: "3.46.0"}})
	require.NoError(t, err)

	decoded, err := Decode(payload)
	require.NoError(t, err)
	require.Empty(t, decoded.Schema)
	require.Empty(t, decoded.Tables)
	require.Empty(t, decoded.Sequences)
	require.NotNil(t, decoded.Tables)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("definitely not gzip"))
	require.ErrorIs(t, err, ErrCorruptPayload)
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	t.Parallel()

	payload, err := Encode(sampleSnapshot())
	require.NoError(t, err)

	_, err = Decode(payload[:len(payload)/2])
	require.ErrorIs(t, err, ErrCorruptPayload)
}

func TestDecodeRejectsRowWidthMismatch(t *testing.T) {
	t.Parallel()

	s := sampleSnapshot()
	s.Tables[0].Rows = append(s.Tables[0].Rows, []Cell{Integer(3)})
	payload, err := Encode(s)
	require.NoError(t, err)

	_, err = Decode(payload)
	require.ErrorIs(t, err, ErrCorruptPayload)
}

func TestDecodeRejectsTableWithoutSchemaEntry(t *testing.T) {
	t.Parallel()

	s := sampleSnapshot()
	s.Tables = append(s.Tables, Table{Name: "ghost", Columns: []string{"id"}, Rows: [][]Cell{}})
	payload, err := Encode(s)
	require.NoError(t, err)

	_, err = Decode(payload)
	require.ErrorIs(t, err, ErrCorruptPayload)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"metadata":{"exportedAt":"2026-01-01T00:00:00Z","engineVersion":"x"},"schema":[],"tables":[],"sequences":[],"extra":true}`)
	_, err := Decode(gzipBytes(t, raw))
	require.ErrorIs(t, err, ErrCorruptPayload)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"metadata":{"exportedAt":"2026-01-01T00:00:00Z","engineVersion":"x"},"schema":[],"tables":[],"sequences":[]} {}`)
	_, err := Decode(gzipBytes(t, raw))
	require.ErrorIs(t, err, ErrCorruptPayload)
}

func TestKindRankOrdersTablesFirst(t *testing.T) {
	t.Parallel()

	require.Less(t, KindTable.Rank(), KindView.Rank())
	require.Less(t, KindView.Rank(), KindIndex.Rank())
	require.Less(t, KindIndex.Rank(), KindTrigger.Rank())
	require.False(t, Kind("virtual").Valid())
}

func sampleSnapshot() *Snapshot {
	s := New("3.46.0", time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC))
	s.Schema = []SchemaObject{
		{Name: "projects", Kind: KindTable, Definition: `CREATE TABLE projects (id INTEGER PRIMARY KEY, name TEXT, logo BLOB, budget REAL)`},
		{Name: "idx_projects_name", Kind: KindIndex, Definition: `CREATE INDEX idx_projects_name ON projects(name)`},
	}
	s.Tables = []Table{
		{
			Name:    "projects",
			Columns: []string{"id", "name", "logo", "budget"},
			Rows: [][]Cell{
				{Integer(1), Text("Apollo"), Blob([]byte{0x89, 0x50, 0x4e, 0x47}), Real(1200.5)},
				{Integer(2), Text(`{"__type":"blob"}`), Null(), Real(0)},
			},
		},
	}
	s.Sequences = []Sequence{{Name: "projects", Value: 2}}
	return s
}

func gzipBytes(t *testing.T, raw []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
