package badger

import (
	"encoding/binary"
)

const (
	documentPrefix = "document:"
	chunkPrefix    = "chunk:"
	vectorPrefix   = "vector:"
	sessionPrefix  = "session:"
	jobPrefix      = "job:"
	jobOrderPrefix = "jobseq:"
	jobIDSeq       = "seq:jobs"
)

func makeDocumentKey(id string) []byte {
	return []byte(documentPrefix + id)
}

func makeChunkPrefix(documentID string) []byte {
	return []byte(chunkPrefix + documentID + ":")
}

// makeChunkKey appends the big-endian sequence index so a prefix scan yields chunks in document order.
func makeChunkKey(documentID string, seq int) []byte {
	return appendUint64(makeChunkPrefix(documentID), uint64(seq))
}

func makeVectorPrefix(documentID string) []byte {
	return []byte(vectorPrefix + documentID + ":")
}

func makeVectorKey(documentID string, seq int) []byte {
	return appendUint64(makeVectorPrefix(documentID), uint64(seq))
}

func makeSessionKey(documentID string) []byte {
	return []byte(sessionPrefix + documentID)
}

func makeJobKey(id string) []byte {
	return []byte(jobPrefix + id)
}

func makeJobOrderKey(seq uint64) []byte {
	return appendUint64([]byte(jobOrderPrefix), seq)
}

func appendUint64(prefix []byte, v uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], v)
	return buf
}
