// Package checkpoint persists policy weights in a small binary
// container: a key-value header holding the run configuration followed
// by aligned tensor payloads in float32, float16 or bfloat16.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"
)

const (
	fileMagic   = "SNSF"
	fileVersion = uint32(1)
	alignment   = int64(32)
)

// ErrBadMagic marks files that are not snake-search checkpoints.
var ErrBadMagic = errors.New("checkpoint: bad magic")

// DType selects the on-disk tensor encoding.
type DType uint32

const (
	F32 DType = iota
	F16
	BF16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "F32"
	case F16:
		return "F16"
	case BF16:
		return "BF16"
	default:
		return fmt.Sprintf("DType(%d)", uint32(d))
	}
}

// elemSize is the byte width of one encoded element.
func (d DType) elemSize() int {
	if d == F32 {
		return 4
	}
	return 2
}

const (
	kvTypeString = uint32(iota)
	kvTypeUint64
	kvTypeInt64
	kvTypeFloat64
	kvTypeBool
)

// Tensor is one named weight matrix. Values are kept in float64 in
// memory regardless of the encoding on disk.
type Tensor struct {
	Name  string
	Shape []int
	DType DType
	Data  []float64

	offset uint64
}

func (t *Tensor) elems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t *Tensor) sizeBytes() uint64 {
	return uint64(t.elems() * t.DType.elemSize())
}

// Checkpoint bundles metadata and tensors.
type Checkpoint struct {
	KV      map[string]any
	Tensors []*Tensor
}

// Write serializes the checkpoint: header, sorted KV pairs, tensor
// table, then the aligned payloads written in parallel.
func Write(f *os.File, c *Checkpoint) error {
	if err := binary.Write(f, binary.LittleEndian, []byte(fileMagic)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, fileVersion); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint64(len(c.Tensors))); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint64(len(c.KV))); err != nil {
		return err
	}

	keys := make([]string, 0, len(c.KV))
	for k := range c.KV {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := writeKV(f, k, c.KV[k]); err != nil {
			return err
		}
	}

	slices.SortStableFunc(c.Tensors, func(a, b *Tensor) int {
		return strings.Compare(a.Name, b.Name)
	})

	var s uint64
	for _, t := range c.Tensors {
		t.offset = s
		if err := writeTensorInfo(f, t); err != nil {
			return err
		}
		s += t.sizeBytes()
		s += uint64(padding(int64(s)))
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	pad := padding(offset)
	if _, err := f.Write(make([]byte, pad)); err != nil {
		return err
	}
	offset += pad

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, t := range c.Tensors {
		w := io.NewOffsetWriter(f, offset+int64(t.offset))
		g.Go(func() error {
			_, err := w.Write(t.encode())
			return err
		})
	}
	return g.Wait()
}

// Save writes a checkpoint to path, replacing any previous file.
func Save(path string, c *Checkpoint) error {
	f, err := os.CreateTemp(filepath.Dir(path), "checkpoint-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := Write(f, c); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Load reads a checkpoint written by Write.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a checkpoint from the reader.
func Read(f io.ReadSeeker) (*Checkpoint, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, err
	}
	if string(magic) != fileMagic {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, magic)
	}

	var version uint32
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != fileVersion {
		return nil, fmt.Errorf("checkpoint: unsupported version %d", version)
	}

	var numTensors, numKV uint64
	if err := binary.Read(f, binary.LittleEndian, &numTensors); err != nil {
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &numKV); err != nil {
		return nil, err
	}

	c := &Checkpoint{KV: make(map[string]any, numKV)}
	for i := uint64(0); i < numKV; i++ {
		k, v, err := readKV(f)
		if err != nil {
			return nil, err
		}
		c.KV[k] = v
	}

	for i := uint64(0); i < numTensors; i++ {
		t, err := readTensorInfo(f)
		if err != nil {
			return nil, err
		}
		c.Tensors = append(c.Tensors, t)
	}

	base, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	base += padding(base)

	for _, t := range c.Tensors {
		if _, err := f.Seek(base+int64(t.offset), io.SeekStart); err != nil {
			return nil, err
		}
		buf := make([]byte, t.sizeBytes())
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, fmt.Errorf("checkpoint: tensor %s: %w", t.Name, err)
		}
		t.Data = decode(buf, t.DType)
	}

	return c, nil
}

// Named returns the tensor with the given name, if present.
func (c *Checkpoint) Named(name string) (*Tensor, bool) {
	for _, t := range c.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

func padding(offset int64) int64 {
	return (alignment - offset%alignment) % alignment
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeKV(w io.Writer, k string, v any) error {
	if err := writeString(w, k); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		if err := binary.Write(w, binary.LittleEndian, kvTypeString); err != nil {
			return err
		}
		return writeString(w, v)
	case uint64:
		if err := binary.Write(w, binary.LittleEndian, kvTypeUint64); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, v)
	case int:
		if err := binary.Write(w, binary.LittleEndian, kvTypeInt64); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, int64(v))
	case int64:
		if err := binary.Write(w, binary.LittleEndian, kvTypeInt64); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, v)
	case float64:
		if err := binary.Write(w, binary.LittleEndian, kvTypeFloat64); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, v)
	case bool:
		if err := binary.Write(w, binary.LittleEndian, kvTypeBool); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, v)
	default:
		return fmt.Errorf("checkpoint: unsupported kv type %T for %q", v, k)
	}
}

func readKV(r io.Reader) (string, any, error) {
	k, err := readString(r)
	if err != nil {
		return "", nil, err
	}

	var typ uint32
	if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
		return "", nil, err
	}

	switch typ {
	case kvTypeString:
		v, err := readString(r)
		return k, v, err
	case kvTypeUint64:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return k, v, err
	case kvTypeInt64:
		var v int64
		err := binary.Read(r, binary.LittleEndian, &v)
		return k, v, err
	case kvTypeFloat64:
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return k, v, err
	case kvTypeBool:
		var v bool
		err := binary.Read(r, binary.LittleEndian, &v)
		return k, v, err
	default:
		return "", nil, fmt.Errorf("checkpoint: unknown kv type %d for %q", typ, k)
	}
}

func writeTensorInfo(w io.Writer, t *Tensor) error {
	if err := writeString(w, t.Name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(t.Shape))); err != nil {
		return err
	}
	for _, d := range t.Shape {
		if err := binary.Write(w, binary.LittleEndian, uint64(d)); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(t.DType)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.offset)
}

func readTensorInfo(r io.Reader) (*Tensor, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}

	var ndim uint32
	if err := binary.Read(r, binary.LittleEndian, &ndim); err != nil {
		return nil, err
	}
	shape := make([]int, ndim)
	for i := range shape {
		var d uint64
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return nil, err
		}
		shape[i] = int(d)
	}

	var dtype uint32
	if err := binary.Read(r, binary.LittleEndian, &dtype); err != nil {
		return nil, err
	}
	var offset uint64
	if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
		return nil, err
	}

	switch DType(dtype) {
	case F32, F16, BF16:
	default:
		return nil, fmt.Errorf("checkpoint: tensor %q has unknown dtype %d", name, dtype)
	}

	return &Tensor{Name: name, Shape: shape, DType: DType(dtype), offset: offset}, nil
}

// encode converts the float64 values to the on-disk representation.
func (t *Tensor) encode() []byte {
	switch t.DType {
	case F16:
		buf := make([]byte, 2*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(float32(v)).Bits())
		}
		return buf
	case BF16:
		f32s := make([]float32, len(t.Data))
		for i, v := range t.Data {
			f32s[i] = float32(v)
		}
		return bfloat16.EncodeFloat32(f32s)
	default:
		buf := make([]byte, 4*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
		}
		return buf
	}
}

func decode(buf []byte, dtype DType) []float64 {
	switch dtype {
	case F16:
		out := make([]float64, len(buf)/2)
		for i := range out {
			bits := binary.LittleEndian.Uint16(buf[2*i:])
			out[i] = float64(float16.Frombits(bits).Float32())
		}
		return out
	case BF16:
		f32s := bfloat16.DecodeFloat32(buf)
		out := make([]float64, len(f32s))
		for i, v := range f32s {
			out[i] = float64(v)
		}
		return out
	default:
		out := make([]float64, len(buf)/4)
		for i := range out {
			bits := binary.LittleEndian.Uint32(buf[4*i:])
			out[i] = float64(math.Float32frombits(bits))
		}
		return out
	}
}
