/*
Package registry is the replicated schema state machine at the heart of
Beacon: the app → zone → servlet → instance hierarchy, users with their
privileges, and versioned configuration blobs.

# Write path

Every mutation is a serialized request record committed through the
registry raft group. Apply is the single writer:

	decode → validate against indexes → allocate id (max+1) →
	bump version → atomic KV batch → update in-memory index →
	return completion result

Undecodable entries are consumed with PARSE_TO_PB_FAIL so the log can
always make progress. A KV batch failure returns INTERNAL_ERROR; the
operator must intervene before the materialized checkpoint diverges.

# Read path

query.go and naming.go read the in-memory indexes under per-entity
read-write mutexes. Because apply is strictly serialized, those mutexes
only fence readers against the one writer. Reads are valid on followers;
staleness is bounded by replication lag and documented.

# Invariants

  - Names are unique per level: (app), (app, zone), (app, zone, servlet),
    (instance address).
  - Drops are refused while children exist.
  - max ids never decrease, and are persisted in the same batch as the
    entity that advanced them.
  - Every create or modify bumps the entity version by one.
  - naming never returns an instance older than the liveness window, in
    a non-NORMAL status, or failing the env/color set filters.
*/
package registry
