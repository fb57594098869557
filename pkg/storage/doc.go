/*
Package storage is the durable key-value seam underneath the Beacon state
machines: one logical column family over BoltDB, with atomic batched
writes, lexicographic prefix scans, and whole-file checkpoints.

# Role in the system

The replication log is the source of truth; the store is a materialized
checkpoint of applied state. Apply callbacks write entity records and
max-id markers in one batch so a reader bootstrapping from the file never
observes an entity without the id watermark that produced it.

	┌───────────── STATE MACHINES ─────────────┐
	│  registry        autoincr        tso      │
	│     │ PutBatch       (memory)      │ Put  │
	└─────┼────────────────────────────────┼────┘
	      ▼                                ▼
	┌──────────────── BoltStore ───────────────┐
	│  single bucket, region-prefixed keys      │
	│  0x01 schema   0x02 privilege             │
	│  0x03 instance 0x04 config   0x05 tso     │
	└───────────────────────────────────────────┘

# Key layout

Keys start with a one-byte region tag; entity ids are 8-byte big-endian
so prefix scans iterate in id order. The exact bytes are a wire contract
(keys.go) pinned by TestKeyLayout.

# Concurrency

Writers are the single apply goroutine of each state machine; Bolt's own
transaction locking is the only synchronization the store needs. Writes
from different state machines never collide on keys because regions are
disjoint.
*/
package storage
