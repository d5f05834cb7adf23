package storage

import "encoding/binary"

// encodeTuple/decodeTuple frame a tuple for the goleveldb value slot:
// [commitTS(8) | deleted(1) | value...]. Kept separate from wal.go's wire
// format since the WAL additionally frames relation id, domain length and
// a checksum across entries read sequentially at startup.
func encodeTuple(t tuple) []byte {
	out := make([]byte, 9+len(t.value))
	binary.BigEndian.PutUint64(out[0:8], t.commitTS)
	if t.deleted {
		out[8] = 1
	}
	copy(out[9:], t.value)
	return out
}

func decodeTuple(raw []byte) (tuple, bool) {
	if len(raw) < 9 {
		return tuple{}, false
	}
	t := tuple{
		commitTS: binary.BigEndian.Uint64(raw[0:8]),
		deleted:  raw[8] == 1,
	}
	if len(raw) > 9 {
		t.value = append([]byte(nil), raw[9:]...)
	}
	return t, true
}
