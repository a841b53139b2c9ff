package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/wbrown/janus-factdb/datalog"
)

// Record layout:
//
//	version(1) | xxhash64 of body(8) | snappy(body)
//
// body is T, Tx, instant (unix nanos) and the datom count as varints,
// followed by each datom as E, A, value type, value length, value bytes
// and an added byte.
const recordVersion = 1

var errShortRecord = errors.New("record truncated")

// EncodeRecord serializes a transaction record
func EncodeRecord(rec TxRecord) ([]byte, error) {
	body := make([]byte, 0, 32+len(rec.Datoms)*24)
	body = binary.AppendVarint(body, rec.T)
	body = binary.AppendVarint(body, int64(rec.Tx))
	body = binary.AppendVarint(body, rec.Instant.UnixNano())
	body = binary.AppendUvarint(body, uint64(len(rec.Datoms)))

	for _, d := range rec.Datoms {
		vt, data, err := datalog.ValueBytes(d.V)
		if err != nil {
			return nil, fmt.Errorf("encoding datom %s: %w", d, err)
		}
		body = binary.AppendVarint(body, int64(d.E))
		body = binary.AppendVarint(body, int64(d.A))
		body = append(body, byte(vt))
		body = binary.AppendUvarint(body, uint64(len(data)))
		body = append(body, data...)
		if d.Added {
			body = append(body, 1)
		} else {
			body = append(body, 0)
		}
	}

	compressed := snappy.Encode(nil, body)
	out := make([]byte, 9, 9+len(compressed))
	out[0] = recordVersion
	binary.BigEndian.PutUint64(out[1:9], xxhash.Sum64(compressed))
	return append(out, compressed...), nil
}

// DecodeRecord parses a record written by EncodeRecord. Any corruption is
// reported as a StorageFault.
func DecodeRecord(raw []byte) (TxRecord, error) {
	rec, err := decodeRecord(raw)
	if err != nil {
		return TxRecord{}, &datalog.StorageFault{Op: "decode record", Err: err}
	}
	return rec, nil
}

func decodeRecord(raw []byte) (TxRecord, error) {
	if len(raw) < 9 {
		return TxRecord{}, errShortRecord
	}
	if raw[0] != recordVersion {
		return TxRecord{}, fmt.Errorf("unknown record version %d", raw[0])
	}
	compressed := raw[9:]
	if sum := xxhash.Sum64(compressed); sum != binary.BigEndian.Uint64(raw[1:9]) {
		return TxRecord{}, fmt.Errorf("checksum mismatch")
	}
	body, err := snappy.Decode(nil, compressed)
	if err != nil {
		return TxRecord{}, fmt.Errorf("decompress: %w", err)
	}

	r := reader{buf: body}
	var rec TxRecord
	rec.T = r.varint()
	rec.Tx = datalog.EntityID(r.varint())
	rec.Instant = time.Unix(0, r.varint()).UTC()
	n := r.uvarint()
	if r.err != nil {
		return TxRecord{}, r.err
	}
	if n > uint64(len(body)) {
		return TxRecord{}, fmt.Errorf("datom count %d exceeds record size", n)
	}

	rec.Datoms = make([]datalog.Datom, 0, n)
	for i := uint64(0); i < n; i++ {
		e := r.varint()
		a := r.varint()
		vt := datalog.ValueType(r.byte())
		data := r.bytes(r.uvarint())
		added := r.byte()
		if r.err != nil {
			return TxRecord{}, r.err
		}
		v, err := datalog.ValueFromBytes(vt, data)
		if err != nil {
			return TxRecord{}, err
		}
		rec.Datoms = append(rec.Datoms, datalog.Datom{
			E: datalog.EntityID(e), A: datalog.EntityID(a), V: v, Tx: rec.Tx, Added: added == 1,
		})
	}
	if len(r.buf) != 0 {
		return TxRecord{}, fmt.Errorf("%d trailing bytes", len(r.buf))
	}
	return rec, nil
}

// reader consumes a byte slice, remembering the first error
type reader struct {
	buf []byte
	err error
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.err = errShortRecord
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = errShortRecord
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) == 0 {
		r.err = errShortRecord
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) bytes(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)) {
		r.err = errShortRecord
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}
