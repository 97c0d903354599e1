package page

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/geojoin/geometry"
)

// Compression selects the codec used for serialized pages.
type Compression uint8

const (
	// CompressionNone stores pages uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD block compression (better ratio).
	CompressionZSTD Compression = 2
)

// ErrCorruptPage is returned when serialized bytes cannot be decoded.
var ErrCorruptPage = errors.New("corrupt serialized page")

// frame header: [compression u8][uncompressed u32][compressed u32]
// compressed == 0 means the payload is stored raw.
const frameHeaderSize = 9

// String returns the codec name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression resolves a codec by name.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, errors.Newf("unknown compression %q", name)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Serde serializes pages to a self-describing binary frame.
// A Serde is safe for concurrent use.
type Serde struct {
	compression Compression
}

// NewSerde returns a Serde that compresses with c.
func NewSerde(c Compression) *Serde {
	return &Serde{compression: c}
}

// Compression returns the codec used when serializing.
func (s *Serde) Compression() Compression { return s.compression }

// Serialize encodes p into a frame.
func (s *Serde) Serialize(p *Page) ([]byte, error) {
	payload, err := encodePage(p)
	if err != nil {
		return nil, err
	}

	var compressed []byte
	switch s.compression {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, buf, nil)
		if err != nil {
			return nil, errors.Wrap(err, "lz4 compress")
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(payload, nil)
		zstdEncoderPool.Put(enc)
	}

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	frame[0] = byte(s.compression)
	binary.LittleEndian.PutUint32(frame[1:], uint32(len(payload)))

	// Keep the raw payload unless compression saves at least 10%.
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(payload))*0.9 {
		binary.LittleEndian.PutUint32(frame[5:], 0)
		return append(frame, payload...), nil
	}
	binary.LittleEndian.PutUint32(frame[5:], uint32(len(compressed)))
	return append(frame, compressed...), nil
}

// Deserialize decodes a frame produced by any Serde.
func (s *Serde) Deserialize(frame []byte) (*Page, error) {
	if len(frame) < frameHeaderSize {
		return nil, errors.Wrap(ErrCorruptPage, "frame too small for header")
	}
	codec := Compression(frame[0])
	uncompressedSize := binary.LittleEndian.Uint32(frame[1:])
	compressedSize := binary.LittleEndian.Uint32(frame[5:])
	body := frame[frameHeaderSize:]

	if compressedSize == 0 {
		if uint32(len(body)) < uncompressedSize {
			return nil, errors.Wrap(ErrCorruptPage, "frame body too small")
		}
		return decodePage(body[:uncompressedSize])
	}
	if uint32(len(body)) < compressedSize {
		return nil, errors.Wrap(ErrCorruptPage, "compressed body too small")
	}
	body = body[:compressedSize]

	payload := make([]byte, uncompressedSize)
	switch codec {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(body, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4 decompress: %w", ErrCorruptPage, err)
		}
		payload = payload[:n]
	case CompressionZSTD:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(body, payload[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decompress: %w", ErrCorruptPage, err)
		}
		payload = decoded
	default:
		return nil, errors.Wrapf(ErrCorruptPage, "unknown compression %d", codec)
	}
	if uint32(len(payload)) != uncompressedSize {
		return nil, errors.Wrap(ErrCorruptPage, "decompressed size mismatch")
	}
	return decodePage(payload)
}

// WritePages writes length-prefixed frames for pages to w.
func WritePages(w io.Writer, s *Serde, pages ...*Page) error {
	var prefix [4]byte
	for _, p := range pages {
		frame, err := s.Serialize(p)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(prefix[:], uint32(len(frame)))
		if _, err := w.Write(prefix[:]); err != nil {
			return errors.Wrap(err, "write frame length")
		}
		if _, err := w.Write(frame); err != nil {
			return errors.Wrap(err, "write frame")
		}
	}
	return nil
}

// ReadPages reads length-prefixed frames from r until EOF.
func ReadPages(r io.Reader, s *Serde) ([]*Page, error) {
	var (
		pages  []*Page
		prefix [4]byte
	)
	for {
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return pages, nil
			}
			return nil, fmt.Errorf("%w: read frame length: %w", ErrCorruptPage, err)
		}
		frame := make([]byte, binary.LittleEndian.Uint32(prefix[:]))
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, fmt.Errorf("%w: read frame: %w", ErrCorruptPage, err)
		}
		p, err := s.Deserialize(frame)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
}

func encodePage(p *Page) ([]byte, error) {
	buf := make([]byte, 0, 64+p.SizeInBytes())
	buf = binary.AppendUvarint(buf, uint64(p.positionCount))
	buf = binary.AppendUvarint(buf, uint64(len(p.blocks)))

	for _, b := range p.blocks {
		buf = append(buf, byte(b.Type()))
		hasNulls := false
		for i := 0; i < p.positionCount; i++ {
			if b.IsNull(i) {
				hasNulls = true
				break
			}
		}
		if hasNulls {
			buf = append(buf, 1)
			bits := make([]byte, (p.positionCount+7)/8)
			for i := 0; i < p.positionCount; i++ {
				if b.IsNull(i) {
					bits[i/8] |= 1 << (i % 8)
				}
			}
			buf = append(buf, bits...)
		} else {
			buf = append(buf, 0)
		}

		var err error
		if buf, err = encodeValues(buf, b, p.positionCount); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func encodeValues(buf []byte, b Block, n int) ([]byte, error) {
	switch vb := b.(type) {
	case *LongBlock:
		for i := 0; i < n; i++ {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(vb.values[i]))
		}
	case *DoubleBlock:
		for i := 0; i < n; i++ {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(vb.values[i]))
		}
	case *BooleanBlock:
		for i := 0; i < n; i++ {
			if vb.values[i] {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	case *VarcharBlock:
		for i := 0; i < n; i++ {
			buf = binary.AppendUvarint(buf, uint64(len(vb.values[i])))
			buf = append(buf, vb.values[i]...)
		}
	case *GeometryBlock:
		for i := 0; i < n; i++ {
			if vb.IsNull(i) || vb.values[i] == nil {
				buf = binary.AppendUvarint(buf, 0)
				continue
			}
			data, err := vb.values[i].WKB()
			if err != nil {
				return nil, errors.Wrapf(err, "encode geometry at position %d", i)
			}
			buf = binary.AppendUvarint(buf, uint64(len(data)))
			buf = append(buf, data...)
		}
	default:
		return nil, errors.Newf("cannot serialize block of type %T", b)
	}
	return buf, nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		return 0, errors.Wrap(ErrCorruptPage, "bad varint")
	}
	d.off += n
	return v, nil
}

func (d *decoder) bytes(n int) ([]byte, error) {
	if n < 0 || d.off+n > len(d.buf) {
		return nil, errors.Wrap(ErrCorruptPage, "unexpected end of page")
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func decodePage(payload []byte) (*Page, error) {
	d := &decoder{buf: payload}
	positions, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	channels, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	n := int(positions)
	if channels == 0 {
		return NewEmptyPage(n), nil
	}

	blocks := make([]Block, 0, channels)
	for c := uint64(0); c < channels; c++ {
		hdr, err := d.bytes(2)
		if err != nil {
			return nil, err
		}
		typ := Type(hdr[0])

		var nulls []bool
		if hdr[1] == 1 {
			bits, err := d.bytes((n + 7) / 8)
			if err != nil {
				return nil, err
			}
			nulls = make([]bool, n)
			for i := range nulls {
				nulls[i] = bits[i/8]&(1<<(i%8)) != 0
			}
		}

		b, err := decodeValues(d, typ, n, nulls)
		if err != nil {
			return nil, errors.Wrapf(err, "channel %d", c)
		}
		blocks = append(blocks, b)
	}
	return NewPage(blocks...)
}

func decodeValues(d *decoder, typ Type, n int, nulls []bool) (Block, error) {
	switch typ {
	case TypeBigint:
		raw, err := d.bytes(8 * n)
		if err != nil {
			return nil, err
		}
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		return NewLongBlock(values, nulls), nil
	case TypeDouble:
		raw, err := d.bytes(8 * n)
		if err != nil {
			return nil, err
		}
		values := make([]float64, n)
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		return NewDoubleBlock(values, nulls), nil
	case TypeBoolean:
		raw, err := d.bytes(n)
		if err != nil {
			return nil, err
		}
		values := make([]bool, n)
		for i := range values {
			values[i] = raw[i] == 1
		}
		return NewBooleanBlock(values, nulls), nil
	case TypeVarchar:
		values := make([]string, n)
		for i := range values {
			l, err := d.uvarint()
			if err != nil {
				return nil, err
			}
			raw, err := d.bytes(int(l))
			if err != nil {
				return nil, err
			}
			values[i] = string(raw)
		}
		return NewVarcharBlock(values, nulls), nil
	case TypeGeometry:
		values := make([]*geometry.Geometry, n)
		for i := range values {
			l, err := d.uvarint()
			if err != nil {
				return nil, err
			}
			if l == 0 {
				continue
			}
			raw, err := d.bytes(int(l))
			if err != nil {
				return nil, err
			}
			if values[i], err = geometry.FromWKB(raw); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorruptPage, err)
			}
		}
		return NewGeometryBlock(values), nil
	default:
		return nil, errors.Wrapf(ErrCorruptPage, "unknown type %d", typ)
	}
}
