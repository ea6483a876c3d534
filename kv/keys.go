package kv

import "encoding/binary"

// Single-byte namespace prefixes shared across an actor's KV space.
const (
	prefixPersistData     byte = 0x01
	prefixConn            byte = 0x02
	prefixInspectorToken  byte = 0x03
	prefixUserKV          byte = 0x04
	prefixQueue           byte = 0x05
	prefixQueueMetadata   byte = 0x06
	prefixTraces          byte = 0x07
	prefixSQLite          byte = 0x08
	prefixLegacyPersisted byte = 0x09 // single-blob legacy layout, read-only
)

var (
	keyPersistData     = []byte{prefixPersistData}
	keyInspectorToken  = []byte{prefixInspectorToken}
	keyQueueMetadata   = []byte{prefixQueueMetadata}
	keyLegacyPersisted = []byte{prefixLegacyPersisted}
)

// connKey returns the connection key for connID: CONN_PREFIX || utf8(connId).
func connKey(connID string) []byte {
	key := make([]byte, 0, 1+len(connID))
	key = append(key, prefixConn)
	key = append(key, connID...)
	return key
}

// connIDFromKey recovers the connId from a key produced by connKey.
func connIDFromKey(key []byte) (string, bool) {
	if len(key) < 1 || key[0] != prefixConn {
		return "", false
	}
	return string(key[1:]), true
}

// queueKey returns the queue message key for id: QUEUE_PREFIX ||
// big-endian u64(id), so prefix iteration yields messages in id order.
func queueKey(id uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixQueue
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

func queueIDFromKey(key []byte) (uint64, bool) {
	if len(key) != 9 || key[0] != prefixQueue {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[1:]), true
}

func userKVKey(userKey string) []byte {
	key := make([]byte, 0, 1+len(userKey))
	key = append(key, prefixUserKV)
	key = append(key, userKey...)
	return key
}

func userKeyFromKey(key []byte) (string, bool) {
	if len(key) < 1 || key[0] != prefixUserKV {
		return "", false
	}
	return string(key[1:]), true
}
