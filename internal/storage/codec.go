package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sbinet/npyio/npy"

	"reactsens/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var (
	ErrVersionMismatch = errors.New("record version mismatch")
	ErrCorruptTensor   = errors.New("corrupt coefficient tensor")
)

// Stamp fills a zero VersionedRecord with the current versions.
func Stamp(v model.VersionedRecord) model.VersionedRecord {
	if v.SchemaVersion == 0 {
		v.SchemaVersion = CurrentSchemaVersion
	}
	if v.CodecVersion == 0 {
		v.CodecVersion = CurrentCodecVersion
	}
	return v
}

func EncodeParameterSet(r model.ParameterSetRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeParameterSet(data []byte) (model.ParameterSetRecord, error) {
	var record model.ParameterSetRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ParameterSetRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.ParameterSetRecord{}, err
	}
	return record, nil
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var record model.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return record, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

// Tensors are stored as NumPy .npy arrays: little-endian float64, C order, shape
// [P, R, O, C]. NaN cells keep their bit patterns.
const (
	tensorDtype    = "<f8"
	maxTensorCells = 1 << 31
)

func EncodeTensor(t model.Tensor4) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTensor(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func WriteTensor(w io.Writer, t model.Tensor4) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Len() == 0 {
		return fmt.Errorf("%w: empty tensor %v", model.ErrDimensionMismatch, t.Dims)
	}
	var buf bytes.Buffer
	enc, err := npy.NewWriter(&buf)
	if err != nil {
		return err
	}
	enc.Header.Descr.Shape = t.Dims[:]
	if err := enc.Write(t.Data); err != nil {
		return fmt.Errorf("encoding tensor: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// DecodeTensor parses an .npy payload. Anything other than a complete 4-d float64
// array with nothing after it wraps ErrCorruptTensor.
func DecodeTensor(data []byte) (model.Tensor4, error) {
	dec, err := npy.NewReader(bytes.NewReader(data))
	if err != nil {
		return model.Tensor4{}, fmt.Errorf("%w: %v", ErrCorruptTensor, err)
	}
	descr := dec.Header.Descr
	if descr.Type != tensorDtype || descr.Fortran {
		return model.Tensor4{}, fmt.Errorf("%w: dtype %q fortran=%t", ErrCorruptTensor, descr.Type, descr.Fortran)
	}
	if len(descr.Shape) != 4 {
		return model.Tensor4{}, fmt.Errorf("%w: shape %v is not 4-d", ErrCorruptTensor, descr.Shape)
	}

	var t model.Tensor4
	cells := 1
	for i, d := range descr.Shape {
		if d <= 0 || d > maxTensorCells {
			return model.Tensor4{}, fmt.Errorf("%w: dimension %d is %d", ErrCorruptTensor, i, d)
		}
		cells *= d
		if cells > maxTensorCells {
			return model.Tensor4{}, fmt.Errorf("%w: %d cells exceeds limit", ErrCorruptTensor, cells)
		}
		t.Dims[i] = d
	}

	preamble, err := npyPreambleSize(data)
	if err != nil {
		return model.Tensor4{}, err
	}
	if want := preamble + 8*cells; len(data) != want {
		return model.Tensor4{}, fmt.Errorf("%w: got %d bytes, want %d", ErrCorruptTensor, len(data), want)
	}

	t.Data = make([]float64, cells)
	if err := dec.Read(&t.Data); err != nil {
		return model.Tensor4{}, fmt.Errorf("%w: %v", ErrCorruptTensor, err)
	}
	if len(t.Data) != cells {
		return model.Tensor4{}, fmt.Errorf("%w: read %d cells, want %d", ErrCorruptTensor, len(t.Data), cells)
	}
	return t, nil
}

func ReadTensor(r io.Reader) (model.Tensor4, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return model.Tensor4{}, err
	}
	return DecodeTensor(data)
}

// npyPreambleSize returns the length of the magic, version and header block. Format
// 1.0 stores the header length as a uint16, later versions as a uint32.
func npyPreambleSize(data []byte) (int, error) {
	if len(data) < 10 {
		return 0, fmt.Errorf("%w: %d bytes is shorter than the preamble", ErrCorruptTensor, len(data))
	}
	switch data[6] {
	case 1:
		return 10 + int(binary.LittleEndian.Uint16(data[8:10])), nil
	case 2, 3:
		if len(data) < 12 {
			return 0, fmt.Errorf("%w: %d bytes is shorter than the preamble", ErrCorruptTensor, len(data))
		}
		return 12 + int(binary.LittleEndian.Uint32(data[8:12])), nil
	default:
		return 0, fmt.Errorf("%w: npy format version %d", ErrCorruptTensor, data[6])
	}
}
