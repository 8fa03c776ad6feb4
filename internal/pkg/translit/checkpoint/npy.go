package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

const npyMagic = "\x93NUMPY"

// readNpy decodes a little endian float array. limit bounds the payload
// size in bytes, usually the uncompressed size of the archive entry.
func readNpy(r io.Reader, limit uint64) ([]float32, []int, error) {
	magic := make([]byte, 6)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if string(magic) != npyMagic {
		return nil, nil, fmt.Errorf("invalid NPY magic number")
	}

	version := make([]byte, 2)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, nil, fmt.Errorf("failed to read version: %w", err)
	}

	var headerLen uint32
	if version[0] == 1 {
		var hl uint16
		if err := binary.Read(r, binary.LittleEndian, &hl); err != nil {
			return nil, nil, fmt.Errorf("failed to read header length: %w", err)
		}
		headerLen = uint32(hl)
	} else {
		if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
			return nil, nil, fmt.Errorf("failed to read header length: %w", err)
		}
	}
	if uint64(headerLen) > limit {
		return nil, nil, fmt.Errorf("header length %d exceeds entry size %d", headerLen, limit)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	headerStr := string(header)
	if strings.Contains(headerStr, "'fortran_order': True") {
		return nil, nil, fmt.Errorf("fortran ordered arrays are not supported")
	}

	var width uint64
	switch {
	case strings.Contains(headerStr, "'<f2'"):
		width = 2
	case strings.Contains(headerStr, "'<f4'"):
		width = 4
	case strings.Contains(headerStr, "'<f8'"):
		width = 8
	default:
		return nil, nil, fmt.Errorf("unsupported dtype in header: %s", headerStr)
	}

	shape, err := parseShape(headerStr)
	if err != nil {
		return nil, nil, err
	}
	total, err := elementCount(shape, limit/width)
	if err != nil {
		return nil, nil, err
	}

	switch width {
	case 2:
		raw := make([]uint16, total)
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return nil, nil, fmt.Errorf("failed to read float16 data: %w", err)
		}
		data := make([]float32, total)
		for i, v := range raw {
			data[i] = float16ToFloat32(v)
		}
		return data, shape, nil
	case 4:
		data := make([]float32, total)
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return nil, nil, fmt.Errorf("failed to read float32 data: %w", err)
		}
		return data, shape, nil
	default:
		raw := make([]float64, total)
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return nil, nil, fmt.Errorf("failed to read float64 data: %w", err)
		}
		data := make([]float32, total)
		for i, v := range raw {
			data[i] = float32(v)
		}
		return data, shape, nil
	}
}

// elementCount multiplies out shape, failing on negative dimensions or a
// product above max.
func elementCount(shape []int, max uint64) (int, error) {
	empty := false
	for _, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("negative dimension %d in shape %v", dim, shape)
		}
		empty = empty || dim == 0
	}
	if empty {
		return 0, nil
	}
	total := uint64(1)
	for _, dim := range shape {
		if total > max/uint64(dim) {
			return 0, fmt.Errorf("shape %v exceeds %d elements", shape, max)
		}
		total *= uint64(dim)
	}
	if total > max {
		return 0, fmt.Errorf("shape %v exceeds %d elements", shape, max)
	}
	return int(total), nil
}

// writeNpy emits a version 1.0 little endian float32 array.
func writeNpy(w io.Writer, shape []int, data []float32) error {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprintf("%d", d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%s), }", shapeStr)

	// magic(6) + version(2) + length(2) + header + '\n' is padded to 64 bytes
	pad := 64 - (10+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.Write([]byte{1, 0})
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	buf.WriteString(header)
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func parseShape(header string) ([]int, error) {
	start := strings.Index(header, "'shape': (")
	if start == -1 {
		start = strings.Index(header, "\"shape\": (")
	}
	if start == -1 {
		return nil, fmt.Errorf("shape not found in header")
	}

	start += 10
	end := strings.Index(header[start:], ")")
	if end == -1 {
		return nil, fmt.Errorf("invalid shape format")
	}

	shapeStr := strings.TrimSpace(header[start : start+end])
	shapeStr = strings.TrimSuffix(shapeStr, ",")
	if shapeStr == "" {
		return []int{1}, nil
	}

	parts := strings.Split(shapeStr, ",")
	shape := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var dim int
		if _, err := fmt.Sscanf(p, "%d", &dim); err != nil {
			return nil, fmt.Errorf("invalid dimension: %s", p)
		}
		shape = append(shape, dim)
	}

	if len(shape) == 0 {
		return []int{1}, nil
	}
	return shape, nil
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32((h >> 15) & 1)
	exp := uint32((h >> 10) & 0x1F)
	mant := uint32(h & 0x3FF)

	var f uint32
	switch {
	case exp == 0 && mant == 0:
		f = sign << 31
	case exp == 0:
		for (mant & 0x400) == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3FF
		f = (sign << 31) | ((exp + 127 - 15) << 23) | (mant << 13)
	case exp == 31 && mant == 0:
		f = (sign << 31) | 0x7F800000
	case exp == 31:
		f = (sign << 31) | 0x7FC00000 | (mant << 13)
	default:
		f = (sign << 31) | ((exp + 127 - 15) << 23) | (mant << 13)
	}

	return math.Float32frombits(f)
}
