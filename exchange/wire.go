package exchange

import "encoding/binary"

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendInt32(b []byte, v int32) []byte {
	return appendUint32(b, uint32(v))
}

func readInt32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}
