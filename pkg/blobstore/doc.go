/*
Package blobstore implements magpie's content-addressed artifact store.

Every ingested artifact is stored exactly once, under a path derived from
the BLAKE2b-256 hash of its bytes. The store is the single owner of the
files under its root; the database only records relative paths into it.
Identical bytes always land at the identical path, which is what makes
content-level deduplication a filesystem stat instead of a query.

# Architecture

	┌───────────────────── CONTENT STORE ─────────────────────┐
	│                                                          │
	│  PutStream(reader)                                       │
	│        │                                                 │
	│        ▼                                                 │
	│  ┌───────────────┐    TeeReader     ┌────────────────┐  │
	│  │  spool file    │◄────────────────│ BLAKE2b-256    │  │
	│  │  .tmp/put-*    │                 │ (streaming)    │  │
	│  └──────┬─────────┘                 └──────┬─────────┘  │
	│         │ fsync + close                    │ hex digest  │
	│         ▼                                  ▼             │
	│  ┌──────────────────────────────────────────────────┐   │
	│  │ atomic rename                                     │  │
	│  │ .tmp/put-8f31 ──► ab/cd/abcd42...e1 (64 hex)      │  │
	│  │ target exists? discard spool, Existed=true        │  │
	│  └──────────────────────────────────────────────────┘   │
	│                                                          │
	│  Layout: <root>/<hash[0:2]>/<hash[2:4]>/<hash>           │
	│  Scratch: <root>/.tmp (spools + per-job extract dirs)    │
	└──────────────────────────────────────────────────────────┘

Fan-out depth 2 bounds directory sizes (at most 256 entries per level of
prefix). The relative path is a pure function of the hash, so locating
bytes never requires a database lookup.

# Core Components

Store:
  - PutStream: stream bytes in, get (hash, relative path, size) out.
    Hashing and spooling happen in one pass; the final rename is atomic.
    A second put of identical bytes discards its spool and reports
    Existed=true, which is how post-download deduplication is detected.
  - PutFile: hardlink fast-path for bytes already on the store's
    filesystem, with a copy fallback across filesystems.
  - Open: read a blob back by relative path. Paths that escape the root
    are rejected.
  - Exists: cheap stat by hash.
  - Path / DiskPath: the relative and absolute locations for a hash.
  - ScratchDir / SweepScratch: per-job work directories on the same
    filesystem, swept at boot to clear leftovers from a crash.

Hasher:
  - NewHasher: incremental BLAKE2b-256 (golang.org/x/crypto/blake2b).
  - HashReader: one-shot streaming digest with byte count, used by
    PutFile and by integrity checks (magpie fsck).
  - ValidHash: guards inputs that are supposed to be canonical digests
    (64 lowercase hex characters).

# Crash Safety

All spool files live in <root>/.tmp on the same filesystem as the final
blobs, so the finishing rename is atomic on POSIX filesystems. A crash
at any point leaves either a complete blob at its final path or an
orphaned spool in .tmp; it never leaves a partial blob at a final path.
The supervisor calls SweepScratch at boot to remove stale spools and
extraction directories.

Concurrent puts of identical bytes are safe without locking: both
writers produce the same final path, the first rename wins, and the
loser detects the existing blob and discards its spool.

Blobs are never modified after finalize and never deleted by the
service. Retention is an operator decision made outside the process.

# Usage

Storing a download stream:

	store, err := blobstore.New("/var/lib/magpie/store")
	if err != nil {
		return err
	}

	res, err := store.PutStream(r)
	if err != nil {
		return err
	}
	if res.Existed {
		// identical bytes were already present
	}

Reading back:

	rc, err := store.Open(res.RelPath)
	if err != nil {
		return err
	}
	defer rc.Close()

Verifying integrity:

	hash, _, err := blobstore.HashReader(rc)
	if err != nil {
		return err
	}
	if hash != res.Hash {
		// bytes on disk do not match their name
	}

Scratch space for extraction:

	dir, err := store.ScratchDir("extract")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

# Performance Characteristics

Write path:
  - One sequential write plus one streaming hash per put
  - BLAKE2b-256 hashes around 1 GB/s on current x86-64 cores, so disk
    and network dominate, not the digest
  - fsync before rename is the durability cost, a few ms on spinning
    disk, sub-ms on SSD

Read path:
  - Open is a single file open; no index, no locking

Duplicate put:
  - Full download and hash cost, then a stat and an unlink
  - No second copy of the bytes ever reaches a final path

Directory fan-out:
  - Two prefix levels cap any directory at 256 subdirectories
  - A million blobs averages about 15 files per leaf directory

# Integration Points

This package integrates with:

  - pkg/pipeline: workers stream downloads into PutStream and create
    per-job extraction directories via ScratchDir
  - pkg/repository: processed_files.storage_path holds Store.Path values
  - pkg/supervisor: creates the store at boot and runs SweepScratch
  - cmd/magpie: fsck re-hashes blobs via Open + HashReader

# Design Patterns

Content Addressing:
  - The hash is the identity; the path is derived, never assigned
  - Renaming, re-uploading, or cross-posting a file cannot duplicate it

Spool-Then-Rename:
  - Bytes are complete and synced before they become visible
  - Readers never observe a partial blob

Same-Filesystem Scratch:
  - Spools and extraction dirs live under the store root
  - Keeps renames atomic and puts extraction disk usage under the same
    mount and quota as the blobs it serves

Pure-Function Layout:
  - Path(hash) is deterministic and stateless
  - fsck can verify the whole store from the filesystem alone

# Troubleshooting

Common Issues:

Store directory fills up:
  - Symptom: puts fail with ENOSPC, jobs fail as storage_io
  - Cause: blobs are never deleted by the service
  - Solution: expand the volume or archive old blobs out of band

Orphaned spools after a crash:
  - Symptom: files named put-* under <root>/.tmp
  - Expected: the boot-time sweep removes them; no action needed

Blob does not match its name:
  - Symptom: magpie fsck reports a corrupt entry
  - Cause: disk corruption or out-of-band modification
  - Solution: restore the blob from a backup; the hash names it exactly

Cross-device link errors:
  - Symptom: EXDEV from hardlink attempts in PutFile
  - Expected: the copy fallback handles it; only the fast path is lost

# See Also

  - pkg/pipeline for the write path that feeds the store
  - cmd/magpie fsck for offline integrity verification
  - BLAKE2 reference: https://www.blake2.net
  - golang.org/x/crypto/blake2b documentation
*/
package blobstore
