package journal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
)

const (
	logFileSuffix     = ".log"
	indexFileSuffix   = ".index"
	deletedFileSuffix = ".deleted"

	offsetLength      = 8
	sizeLength        = 4
	crcLength         = 4
	attributesLength  = 1
	keySizeLength     = 4
	payloadSizeLength = 4

	// frameHeaderLength is the fixed prefix before the checksummed body.
	frameHeaderLength = offsetLength + sizeLength

	// recordOverhead is the body size of a record with empty key and payload.
	recordOverhead = crcLength + attributesLength + keySizeLength + payloadSizeLength

	// nullKeyLength marks a record without a key.
	nullKeyLength = uint32(0xFFFFFFFF)

	// maxFieldLength caps key and payload sizes, mirroring the 32-bit
	// length prefixes of the frame.
	maxFieldLength = math.MaxInt32
)

// errIncompleteRecord signals that a buffer ends in the middle of a record
// frame. Readers treat it as end-of-input and retry from the same offset.
var errIncompleteRecord = errors.New("incomplete record frame")

type record struct {
	offset  int64
	key     []byte
	payload []byte
}

// recordLength returns the full frame size for the given field sizes. A nil
// key occupies zero bytes beyond its length prefix.
func recordLength(keyLen, payloadLen int) int {
	return frameHeaderLength + recordOverhead + keyLen + payloadLen
}

func (r record) length() int {
	return recordLength(len(r.key), len(r.payload))
}

// encode appends the record's wire frame to dst and returns the extended
// slice. All integers are big-endian.
func (r record) encode(dst []byte) []byte {
	bodyLen := recordOverhead + len(r.key) + len(r.payload)

	var scratch [frameHeaderLength]byte
	binary.BigEndian.PutUint64(scratch[0:], uint64(r.offset))
	binary.BigEndian.PutUint32(scratch[8:], uint32(bodyLen))
	dst = append(dst, scratch[:]...)

	body := make([]byte, 0, bodyLen)
	body = append(body, 0, 0, 0, 0) // crc placeholder
	body = append(body, 0)          // attributes, reserved
	var lenBuf [4]byte
	if r.key == nil {
		binary.BigEndian.PutUint32(lenBuf[:], nullKeyLength)
		body = append(body, lenBuf[:]...)
	} else {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(r.key)))
		body = append(body, lenBuf[:]...)
		body = append(body, r.key...)
	}
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(r.payload)))
	body = append(body, lenBuf[:]...)
	body = append(body, r.payload...)

	binary.BigEndian.PutUint32(body[0:], crc32.ChecksumIEEE(body[crcLength:]))
	return append(dst, body...)
}

// decodeRecord reads one record frame from the front of b. It returns the
// record and the number of bytes consumed. errIncompleteRecord is returned
// when b holds only part of a frame; a CorruptRecordError is returned on a
// checksum or length mismatch.
func decodeRecord(b []byte) (record, int, error) {
	if len(b) < frameHeaderLength {
		return record{}, 0, errIncompleteRecord
	}
	offset := int64(binary.BigEndian.Uint64(b[0:]))
	bodyLen := int(binary.BigEndian.Uint32(b[8:]))
	if bodyLen < recordOverhead {
		return record{}, 0, CorruptRecordError{Offset: offset, Reason: "body length below minimum"}
	}
	if len(b) < frameHeaderLength+bodyLen {
		return record{}, 0, errIncompleteRecord
	}
	body := b[frameHeaderLength : frameHeaderLength+bodyLen]

	crc := binary.BigEndian.Uint32(body[0:])
	if computed := crc32.ChecksumIEEE(body[crcLength:]); computed != crc {
		return record{}, 0, CorruptRecordError{Offset: offset, Reason: "checksum mismatch"}
	}

	pos := crcLength + attributesLength
	keyLen := binary.BigEndian.Uint32(body[pos:])
	pos += keySizeLength
	var key []byte
	if keyLen != nullKeyLength {
		if int(keyLen) > bodyLen-pos-payloadSizeLength {
			return record{}, 0, CorruptRecordError{Offset: offset, Reason: "key length exceeds body"}
		}
		key = body[pos : pos+int(keyLen)]
		pos += int(keyLen)
	}
	payloadLen := binary.BigEndian.Uint32(body[pos:])
	pos += payloadSizeLength
	if int(payloadLen) != bodyLen-pos {
		return record{}, 0, CorruptRecordError{Offset: offset, Reason: "payload length mismatch"}
	}
	payload := body[pos : pos+int(payloadLen)]

	return record{offset: offset, key: key, payload: payload}, frameHeaderLength + bodyLen, nil
}
