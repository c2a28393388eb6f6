// Package wire implements the binary streaming protocol for instrument
// telemetry: self-describing schema frames and packed data frames,
// big-endian throughout.
//
// Two frame kinds exist, distinguished by a leading one-byte tag:
//
//	schema frame: [0x01][schema_id u32][source_id str][field_count u16][fields...]
//	data frame:   [0x02][schema_id u32][timestamp_ns u64][period_ns u64][sample_count u16][samples...]
//
// Strings are length-prefixed UTF-8 with a single length byte, so 255
// bytes is the hard limit. Each schema carries a CRC32-based identity
// computed over its ordered field list only; two sources sharing a field
// layout share a schema id, and a data frame is decodable against a
// schema iff the ids match.
package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/types"
)

// Frame type tags. These values are the compatibility surface with
// existing producers and consumers and must not change.
const (
	MsgTypeSchema byte = 0x01
	MsgTypeData   byte = 0x02
)

// maxStringLen is the longest string the single length byte can carry.
const maxStringLen = 255

// dataHeaderLen is the fixed byte length of a data frame before samples:
// tag + schema id + timestamp + period + sample count.
const dataHeaderLen = 1 + 4 + 8 + 8 + 2

func encodeString(buf []byte, s string) ([]byte, error) {
	if len(s) > maxStringLen {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q is %d bytes", errors.ErrStringTooLong, s[:16], len(s)),
			"wire", "encodeString", "length check")
	}
	buf = append(buf, byte(len(s)))
	return append(buf, s...), nil
}

func decodeString(data []byte, offset int) (string, int, error) {
	if offset >= len(data) {
		return "", 0, errors.ErrShortBuffer
	}
	length := int(data[offset])
	start := offset + 1
	end := start + length
	if end > len(data) {
		return "", 0, errors.ErrShortBuffer
	}
	return string(data[start:end]), end, nil
}

// StreamField defines a single field in a stream schema. Fields are
// serialized in order within each sample.
type StreamField struct {
	Name  string         `json:"name"`
	DType types.DataType `json:"dtype"`
	Unit  string         `json:"unit"`
}

// appendTo serializes the field definition: name + dtype + unit.
func (f StreamField) appendTo(buf []byte) ([]byte, error) {
	buf, err := encodeString(buf, f.Name)
	if err != nil {
		return nil, err
	}
	buf = append(buf, byte(f.DType))
	return encodeString(buf, f.Unit)
}

func decodeField(data []byte, offset int) (StreamField, int, error) {
	var f StreamField
	var err error
	f.Name, offset, err = decodeString(data, offset)
	if err != nil {
		return f, 0, err
	}
	if offset >= len(data) {
		return f, 0, errors.ErrShortBuffer
	}
	f.DType = types.DataType(data[offset])
	if !f.DType.Valid() {
		return f, 0, errors.WrapInvalid(
			fmt.Errorf("unknown dtype 0x%02x for field %q", byte(f.DType), f.Name),
			"wire", "decodeField", "dtype check")
	}
	offset++
	f.Unit, offset, err = decodeString(data, offset)
	if err != nil {
		return f, 0, err
	}
	return f, offset, nil
}

// crcData returns the bytes this field contributes to the schema id:
// raw name bytes, dtype byte, raw unit bytes, without length prefixes.
func (f StreamField) crcData() []byte {
	buf := make([]byte, 0, len(f.Name)+1+len(f.Unit))
	buf = append(buf, f.Name...)
	buf = append(buf, byte(f.DType))
	return append(buf, f.Unit...)
}

// StreamSchema describes the structure of a data stream. The schema id is
// computed from the ordered field list at construction; the source id is
// deliberately excluded so identical layouts share an id.
type StreamSchema struct {
	SourceID types.SourceID
	Fields   []StreamField

	schemaID   uint32
	sampleSize int
}

// NewSchema builds a schema and derives its id and sample size.
func NewSchema(sourceID types.SourceID, fields []StreamField) (*StreamSchema, error) {
	s := &StreamSchema{SourceID: sourceID, Fields: fields}
	size := 0
	crc := crc32.NewIEEE()
	for _, f := range fields {
		if !f.DType.Valid() {
			return nil, errors.WrapInvalid(
				fmt.Errorf("field %q has unknown dtype 0x%02x", f.Name, byte(f.DType)),
				"wire", "NewSchema", "dtype check")
		}
		if len(f.Name) > maxStringLen || len(f.Unit) > maxStringLen {
			return nil, errors.WrapInvalid(errors.ErrStringTooLong, "wire", "NewSchema", "field length check")
		}
		size += f.DType.Size()
		crc.Write(f.crcData())
	}
	s.schemaID = crc.Sum32()
	s.sampleSize = size
	return s, nil
}

// SchemaID returns the CRC32-derived identity of the field list.
func (s *StreamSchema) SchemaID() uint32 { return s.schemaID }

// SampleSize returns the packed byte length of one sample.
func (s *StreamSchema) SampleSize() int { return s.sampleSize }

// FieldOffset returns the cumulative byte offset of a named field within
// a sample, for consumers that want direct byte access instead of a full
// decode.
func (s *StreamSchema) FieldOffset(name string) (int, error) {
	offset := 0
	for _, f := range s.Fields {
		if f.Name == name {
			return offset, nil
		}
		offset += f.DType.Size()
	}
	return 0, errors.WrapInvalid(
		fmt.Errorf("%w: %q", errors.ErrFieldNotFound, name),
		"wire", "FieldOffset", "lookup")
}

// Field returns the named field definition, or an error if absent.
func (s *StreamSchema) Field(name string) (StreamField, error) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, nil
		}
	}
	return StreamField{}, errors.WrapInvalid(
		fmt.Errorf("%w: %q", errors.ErrFieldNotFound, name),
		"wire", "Field", "lookup")
}

// Encode serializes the schema frame.
func (s *StreamSchema) Encode() ([]byte, error) {
	buf := make([]byte, 0, 8+16*len(s.Fields))
	buf = append(buf, MsgTypeSchema)
	buf = binary.BigEndian.AppendUint32(buf, s.schemaID)
	buf, err := encodeString(buf, string(s.SourceID))
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s.Fields)))
	for _, f := range s.Fields {
		buf, err = f.appendTo(buf)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeSchema parses a schema frame. The schema id is recomputed from
// the decoded fields and checked against the header; a mismatch means the
// frame was corrupted or produced by an incompatible codec.
func DecodeSchema(data []byte) (*StreamSchema, error) {
	if len(data) < 1 {
		return nil, errors.ErrShortBuffer
	}
	if data[0] != MsgTypeSchema {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: expected 0x%02x, got 0x%02x", errors.ErrBadMessageType, MsgTypeSchema, data[0]),
			"wire", "DecodeSchema", "tag check")
	}
	if len(data) < 1+4 {
		return nil, errors.ErrShortBuffer
	}
	expectedID := binary.BigEndian.Uint32(data[1:5])

	sourceID, offset, err := decodeString(data, 5)
	if err != nil {
		return nil, err
	}
	if offset+2 > len(data) {
		return nil, errors.ErrShortBuffer
	}
	fieldCount := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2

	fields := make([]StreamField, 0, fieldCount)
	for i := 0; i < fieldCount; i++ {
		var f StreamField
		f, offset, err = decodeField(data, offset)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}

	schema, err := NewSchema(types.SourceID(sourceID), fields)
	if err != nil {
		return nil, err
	}
	if schema.schemaID != expectedID {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: computed 0x%08x, header has 0x%08x", errors.ErrSchemaMismatch, schema.schemaID, expectedID),
			"wire", "DecodeSchema", "id check")
	}
	return schema, nil
}

// StreamData is a batch of time-series samples with implicit timestamps.
// No per-sample time is stored; sample i is at TimestampNs + i*PeriodNs.
type StreamData struct {
	SchemaID    uint32
	TimestampNs uint64
	PeriodNs    uint64
	Samples     [][]float64
}

// SampleCount returns the number of samples in the batch.
func (d *StreamData) SampleCount() int { return len(d.Samples) }

// Timestamp returns the nanosecond timestamp of sample i.
func (d *StreamData) Timestamp(i int) uint64 {
	return d.TimestampNs + uint64(i)*d.PeriodNs
}

// Timestamps returns the per-sample timestamps in order.
func (d *StreamData) Timestamps() []uint64 {
	out := make([]uint64, len(d.Samples))
	for i := range d.Samples {
		out[i] = d.Timestamp(i)
	}
	return out
}

// Encode serializes the data frame using the supplied schema for layout.
// The schema id and every sample's arity are validated before any byte of
// sample data is written.
func (d *StreamData) Encode(schema *StreamSchema) ([]byte, error) {
	if schema.schemaID != d.SchemaID {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: data has 0x%08x, schema has 0x%08x", errors.ErrSchemaMismatch, d.SchemaID, schema.schemaID),
			"wire", "Encode", "id check")
	}
	if len(schema.Fields) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("schema for source %q has no fields", schema.SourceID),
			"wire", "Encode", "field check")
	}
	if len(d.Samples) > math.MaxUint16 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("sample count %d exceeds u16 limit", len(d.Samples)),
			"wire", "Encode", "sample count check")
	}
	for i, sample := range d.Samples {
		if len(sample) != len(schema.Fields) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: sample %d has %d values, schema has %d fields",
					errors.ErrSampleArity, i, len(sample), len(schema.Fields)),
				"wire", "Encode", "arity check")
		}
	}

	buf := make([]byte, 0, dataHeaderLen+len(d.Samples)*schema.sampleSize)
	buf = append(buf, MsgTypeData)
	buf = binary.BigEndian.AppendUint32(buf, d.SchemaID)
	buf = binary.BigEndian.AppendUint64(buf, d.TimestampNs)
	buf = binary.BigEndian.AppendUint64(buf, d.PeriodNs)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(d.Samples)))

	for _, sample := range d.Samples {
		for j, f := range schema.Fields {
			buf = appendValue(buf, f.DType, sample[j])
		}
	}
	return buf, nil
}

// DecodeData parses a data frame against the supplied schema. The frame's
// schema id must equal the schema's; mismatch is always an error, never
// coerced.
func DecodeData(data []byte, schema *StreamSchema) (*StreamData, error) {
	if len(data) < 1 {
		return nil, errors.ErrShortBuffer
	}
	if data[0] != MsgTypeData {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: expected 0x%02x, got 0x%02x", errors.ErrBadMessageType, MsgTypeData, data[0]),
			"wire", "DecodeData", "tag check")
	}
	if len(data) < dataHeaderLen {
		return nil, errors.ErrShortBuffer
	}

	schemaID := binary.BigEndian.Uint32(data[1:5])
	if schemaID != schema.schemaID {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: frame has 0x%08x, schema has 0x%08x", errors.ErrSchemaMismatch, schemaID, schema.schemaID),
			"wire", "DecodeData", "id check")
	}

	d := &StreamData{
		SchemaID:    schemaID,
		TimestampNs: binary.BigEndian.Uint64(data[5:13]),
		PeriodNs:    binary.BigEndian.Uint64(data[13:21]),
	}
	sampleCount := int(binary.BigEndian.Uint16(data[21:23]))

	need := dataHeaderLen + sampleCount*schema.sampleSize
	if len(data) < need {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: need %d bytes for %d samples, have %d", errors.ErrShortBuffer, need, sampleCount, len(data)),
			"wire", "DecodeData", "length check")
	}

	offset := dataHeaderLen
	d.Samples = make([][]float64, sampleCount)
	for i := 0; i < sampleCount; i++ {
		sample := make([]float64, len(schema.Fields))
		for j, f := range schema.Fields {
			sample[j] = readValue(data[offset:], f.DType)
			offset += f.DType.Size()
		}
		d.Samples[i] = sample
	}
	return d, nil
}

// appendValue packs one value as the given wire type, big-endian.
func appendValue(buf []byte, dt types.DataType, v float64) []byte {
	switch dt {
	case types.I8:
		return append(buf, byte(int8(v)))
	case types.U8:
		return append(buf, uint8(v))
	case types.I16:
		return binary.BigEndian.AppendUint16(buf, uint16(int16(v)))
	case types.U16:
		return binary.BigEndian.AppendUint16(buf, uint16(v))
	case types.I32:
		return binary.BigEndian.AppendUint32(buf, uint32(int32(v)))
	case types.U32:
		return binary.BigEndian.AppendUint32(buf, uint32(v))
	case types.I64:
		return binary.BigEndian.AppendUint64(buf, uint64(int64(v)))
	case types.U64:
		return binary.BigEndian.AppendUint64(buf, uint64(v))
	case types.F32:
		return binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	case types.F64:
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
	default:
		return buf
	}
}

// readValue unpacks one big-endian value of the given wire type.
func readValue(data []byte, dt types.DataType) float64 {
	switch dt {
	case types.I8:
		return float64(int8(data[0]))
	case types.U8:
		return float64(data[0])
	case types.I16:
		return float64(int16(binary.BigEndian.Uint16(data)))
	case types.U16:
		return float64(binary.BigEndian.Uint16(data))
	case types.I32:
		return float64(int32(binary.BigEndian.Uint32(data)))
	case types.U32:
		return float64(binary.BigEndian.Uint32(data))
	case types.I64:
		return float64(int64(binary.BigEndian.Uint64(data)))
	case types.U64:
		return float64(binary.BigEndian.Uint64(data))
	case types.F32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(data)))
	case types.F64:
		return math.Float64frombits(binary.BigEndian.Uint64(data))
	default:
		return 0
	}
}
