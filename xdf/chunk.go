package xdf

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeChunk frames content under the given tag using the smallest of the
// three legal length-field widths (1, 4, or 8 bytes) that can hold
// len(content)+2 (the two tag bytes count toward the framed length).
func writeChunk(w io.Writer, tag Tag, content []byte) (int, error) {
	bodyLen := uint64(len(content) + 2)

	var numLenBytes byte
	switch {
	case bodyLen <= 0xFF:
		numLenBytes = 1
	case bodyLen <= 0xFFFFFFFF:
		numLenBytes = 4
	default:
		numLenBytes = 8
	}

	total := 0
	if err := writeByte(w, numLenBytes); err != nil {
		return 0, err
	}
	total++

	switch numLenBytes {
	case 1:
		if err := writeByte(w, byte(bodyLen)); err != nil {
			return total, err
		}
		total++
	case 4:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(bodyLen))
		n, err := w.Write(buf[:])
		total += n
		if err != nil {
			return total, err
		}
	case 8:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], bodyLen)
		n, err := w.Write(buf[:])
		total += n
		if err != nil {
			return total, err
		}
	}

	var tagBuf [2]byte
	binary.LittleEndian.PutUint16(tagBuf[:], uint16(tag))
	n, err := w.Write(tagBuf[:])
	total += n
	if err != nil {
		return total, err
	}

	n, err = w.Write(content)
	total += n
	if err != nil {
		return total, err
	}

	return total, nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

// readChunk reads one framed chunk, returning its tag and content. It
// returns io.EOF when the stream is exhausted exactly at a chunk boundary.
func readChunk(r io.Reader) (Tag, []byte, error) {
	var numLenBytes [1]byte
	if _, err := io.ReadFull(r, numLenBytes[:]); err != nil {
		return 0, nil, err
	}

	var bodyLen uint64
	switch numLenBytes[0] {
	case 1:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, nil, err
		}
		bodyLen = uint64(b[0])
	case 4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, nil, err
		}
		bodyLen = uint64(binary.LittleEndian.Uint32(b[:]))
	case 8:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, nil, err
		}
		bodyLen = binary.LittleEndian.Uint64(b[:])
	default:
		return 0, nil, fmt.Errorf("xdf: invalid length-field width %d", numLenBytes[0])
	}

	if bodyLen < 2 {
		return 0, nil, fmt.Errorf("xdf: chunk body length %d too short for a tag", bodyLen)
	}

	var tagBuf [2]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return 0, nil, err
	}
	tag := Tag(binary.LittleEndian.Uint16(tagBuf[:]))

	content := make([]byte, bodyLen-2)
	if _, err := io.ReadFull(r, content); err != nil {
		return 0, nil, err
	}

	return tag, content, nil
}
