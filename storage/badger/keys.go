package badger

import (
	"encoding/binary"
	"time"
)

// Key prefixes for different data types
const (
	jobPrefix         = "job"
	jobQueuePrefix    = "jobq"
	jobActivePrefix   = "joba"
	jobCreatedPrefix  = "jobc"
	documentPrefix    = "doc"
	documentURLPrefix = "docu"
	chunkPrefix       = "chk"
)

// keySep separates variable-length components of composite keys.
const keySep = 0x00

// makeJobKey generates a key for a job by ID.
func makeJobKey(id string) []byte {
	return []byte(jobPrefix + ":" + id)
}

// sortablePriority maps a signed priority so that higher priorities sort first
// in ascending key order.
func sortablePriority(priority int) uint64 {
	return ^(uint64(int64(priority)) ^ (1 << 63))
}

// makeJobQueueKey generates a composite key for the queued-job index.
// Format: prefix:^priority:createdAt:id
// Ascending iteration yields highest priority first, then oldest first.
func makeJobQueueKey(priority int, createdAt time.Time, id string) []byte {
	prefix := jobQueuePrefix + ":"
	buf := make([]byte, len(prefix)+16+len(id))
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], sortablePriority(priority))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(createdAt.UnixMicro()))
	offset += 8
	copy(buf[offset:], id)
	return buf
}

// jobIDFromQueueKey extracts the job ID from a queued-job index key.
func jobIDFromQueueKey(key []byte) string {
	return string(key[len(jobQueuePrefix)+1+16:])
}

// makeJobActiveKey generates the dedup index key for active jobs.
// Format: prefix:len(tenant)tenant\x00urlHash
func makeJobActiveKey(tenantID, urlHash string) []byte {
	return makeTenantKey(jobActivePrefix, tenantID, urlHash)
}

// makeJobCreatedKey generates a composite key for listing jobs by creation time.
// Format: prefix:createdAt:id
func makeJobCreatedKey(createdAt time.Time, id string) []byte {
	prefix := jobCreatedPrefix + ":"
	buf := make([]byte, len(prefix)+8+len(id))
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(createdAt.UnixMicro()))
	offset += 8
	copy(buf[offset:], id)
	return buf
}

// jobIDFromCreatedKey extracts the job ID from a creation index key.
func jobIDFromCreatedKey(key []byte) string {
	return string(key[len(jobCreatedPrefix)+1+8:])
}

// makeDocumentKey generates a key for a document.
// Format: prefix:len(tenant)tenant\x00documentID
func makeDocumentKey(tenantID, documentID string) []byte {
	return makeTenantKey(documentPrefix, tenantID, documentID)
}

// makeDocumentURLKey generates the identity index key for a document.
// Format: prefix:len(tenant)tenant\x00urlHash
func makeDocumentURLKey(tenantID, urlHash string) []byte {
	return makeTenantKey(documentURLPrefix, tenantID, urlHash)
}

// makeChunkKey generates a key for a chunk.
// Format: prefix:len(tenant)tenant\x00documentID\x00position
func makeChunkKey(tenantID, documentID string, position int) []byte {
	partial := makePartialChunkKey(tenantID, documentID)
	buf := make([]byte, len(partial)+8)
	offset := copy(buf, partial)
	binary.BigEndian.PutUint64(buf[offset:], uint64(position))
	return buf
}

// makePartialChunkKey generates the prefix shared by all chunks of a document.
func makePartialChunkKey(tenantID, documentID string) []byte {
	key := makeTenantKey(chunkPrefix, tenantID, documentID)
	return append(key, keySep)
}

// makePartialTenantKey generates the prefix shared by all keys of a tenant.
// The tenant is length-prefixed so no tenant's prefix can cover another's.
func makePartialTenantKey(prefix, tenantID string) []byte {
	buf := make([]byte, 0, len(prefix)+1+binary.MaxVarintLen64+len(tenantID)+1)
	buf = append(buf, prefix...)
	buf = append(buf, ':')
	buf = binary.AppendUvarint(buf, uint64(len(tenantID)))
	buf = append(buf, tenantID...)
	return append(buf, keySep)
}

func makeTenantKey(prefix, tenantID, id string) []byte {
	return append(makePartialTenantKey(prefix, tenantID), id...)
}
