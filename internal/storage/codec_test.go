package storage

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/sbinet/npyio"

	"reactsens/internal/model"
)

func sampleTensor() model.Tensor4 {
	tensor := model.NewTensor4(2, 3, 1, 2)
	for i := range tensor.Data {
		tensor.Data[i] = float64(i) - 4.5
	}
	tensor.Set(1, 2, 0, 1, math.NaN())
	tensor.Set(0, 0, 0, 0, 0)
	return tensor
}

func TestTensorCodecRoundTripPreservesNaN(t *testing.T) {
	tensor := sampleTensor()

	var buf bytes.Buffer
	if err := WriteTensor(&buf, tensor); err != nil {
		t.Fatalf("write tensor: %v", err)
	}
	decoded, err := ReadTensor(&buf)
	if err != nil {
		t.Fatalf("read tensor: %v", err)
	}
	if !decoded.Equal(tensor) {
		t.Fatalf("round trip mismatch: %v vs %v", decoded.Data, tensor.Data)
	}
	if !math.IsNaN(decoded.At(1, 2, 0, 1)) {
		t.Fatal("NaN cell lost")
	}
}

func TestEncodeTensorWritesNumPyHeader(t *testing.T) {
	data, err := EncodeTensor(sampleTensor())
	if err != nil {
		t.Fatalf("encode tensor: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x93NUMPY")) {
		t.Fatalf("missing npy magic: %q", data[:8])
	}
	header := string(data[:bytes.IndexByte(data, '\n')+1])
	if !strings.Contains(header, "'<f8'") || !strings.Contains(header, "2, 3, 1, 2") {
		t.Fatalf("unexpected npy header: %q", header)
	}
}

func TestDecodeTensorRejectsCorruption(t *testing.T) {
	data, err := EncodeTensor(sampleTensor())
	if err != nil {
		t.Fatalf("encode tensor: %v", err)
	}

	var flat bytes.Buffer
	if err := npyio.Write(&flat, []float64{1, 2, 3}); err != nil {
		t.Fatalf("write 1-d array: %v", err)
	}
	var ints bytes.Buffer
	if err := npyio.Write(&ints, []int32{1, 2, 3, 4}); err != nil {
		t.Fatalf("write int array: %v", err)
	}

	cases := map[string][]byte{
		"truncated": data[:len(data)-9],
		"trailing":  append(append([]byte(nil), data...), 0, 0, 0, 0, 0, 0, 0, 0),
		"empty":     {},
		"magic":     append([]byte("XXXXXX"), data[6:]...),
		"rank":      flat.Bytes(),
		"dtype":     ints.Bytes(),
	}
	for name, payload := range cases {
		if _, err := DecodeTensor(payload); !errors.Is(err, ErrCorruptTensor) {
			t.Fatalf("%s: expected ErrCorruptTensor, got %v", name, err)
		}
	}
}

func TestEncodeTensorRejectsInvalidShape(t *testing.T) {
	bad := model.Tensor4{Dims: [4]int{1, 1, 1, 2}, Data: []float64{1}}
	if _, err := EncodeTensor(bad); !errors.Is(err, model.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if _, err := EncodeTensor(model.Tensor4{}); !errors.Is(err, model.ErrDimensionMismatch) {
		t.Fatalf("expected empty tensor rejection, got %v", err)
	}
}

func TestParameterSetCodecChecksVersion(t *testing.T) {
	record := model.ParameterSetRecord{
		VersionedRecord: Stamp(model.VersionedRecord{}),
		Model:           "erk_feedback",
		Set:             model.ParameterSet{Index: 3, Parameters: []float64{1, 2}, Initial: []float64{0}},
	}
	data, err := EncodeParameterSet(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeParameterSet(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Set.Index != 3 || decoded.Set.Parameters[1] != 2 {
		t.Fatalf("unexpected record: %+v", decoded)
	}

	record.CodecVersion = 99
	data, err = EncodeParameterSet(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeParameterSet(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestRunCodecRoundTrip(t *testing.T) {
	record := model.RunRecord{VersionedRecord: Stamp(model.VersionedRecord{}), RunID: "r1", Model: "m", NaNCells: 2}
	data, err := EncodeRun(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != record {
		t.Fatalf("run mismatch: %+v vs %+v", decoded, record)
	}
}
