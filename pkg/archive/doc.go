/*
Package archive streams members out of ZIP and RAR containers with safety
guards against hostile archives.

Artifacts arriving from untrusted channels are routinely crafted to attack
the unpacker: members named ../../etc/cron.d/evil, 1 KiB files inflating to
tens of gigabytes, symlinks pointing outside the extraction root, encrypted
payloads. This package treats every archive as hostile and fails the job,
not the process, when a guard trips.

# Architecture

	                ForFilename(name)
	                       │  lowercase suffix
	          ┌────────────┴────────────┐
	          ▼                         ▼
	   ┌─────────────┐          ┌──────────────┐
	   │ zipExtractor │          │ rarExtractor │
	   │ klauspost/   │          │ nwaples/     │
	   │ compress/zip │          │ rardecode/v2 │
	   └──────┬───────┘          └──────┬───────┘
	          └────────────┬────────────┘
	                       ▼
	          ┌─────────────────────────┐
	          │ shared guard machinery   │
	          │  securePath              │
	          │  budget (precheck)       │
	          │  memberWriter (actual)   │
	          │  writeMember             │
	          └──────────┬──────────────┘
	                     ▼
	          fn(Member{RelPath, DiskPath, Size})

Dispatch is a tagged table keyed by filename suffix. Both decoders feed the
same guard machinery, so a new container format only has to adapt its
headers to (name, declared sizes, reader).

# Core Components

Extractor:
  - The one-method interface both formats implement
  - Extract walks the container, writes each safe regular member to the
    destination, and invokes the callback per member
  - A callback error aborts the walk and propagates unchanged

Limits:
  - MaxTotalBytes: cumulative decompressed ceiling across all members
  - MaxRatio: per-member compressed-to-decompressed expansion cap
  - Zero values disable the corresponding guard

Member:
  - RelPath: the sanitized member path, suitable for provenance records
  - DiskPath: where the fully written bytes sit in the destination
  - Size: decompressed byte count actually written

Sentinels:
  - ErrPasswordRequired, ErrUnsafePath, ErrBombCeiling, ErrBombRatio
  - Matched with errors.Is by the pipeline's error classifier

# Safety Guards

Path traversal:
  - Member names are normalized (backslashes to slashes, path.Clean) and
    rejected when absolute, drive-prefixed, or escaping upward. The final
    joined path is checked to stay under the destination root.

Decompression bombs:
  - Declared sizes are prechecked before any inflation, aborting cheap.
  - The memberWriter re-enforces both the cumulative ceiling and the
    per-member compressed/uncompressed ratio on actual bytes written, so
    lying headers are caught mid-inflation.

Non-regular members:
  - Directories, symlinks, devices, and fifos are skipped, never created.

Encrypted archives:
  - ZIP members with the encryption header flag and RAR decoder password
    errors surface as ErrPasswordRequired, which the pipeline records as a
    terminal, non-fatal job failure.

Cancellation:
  - The reader is wrapped with a context check, so a shutdown mid-member
    stops inflation at the next read instead of finishing a bomb.

All guard violations are sentinel errors matched with errors.Is; extraction
stops at the first violation and the caller removes the work directory.

# Format Notes

ZIP (klauspost/compress/zip):
  - Central directory gives every declared size up front, so the budget
    precheck covers the whole archive before any inflation
  - Encryption is detected from the general-purpose flag bit on each
    member header, before attempting the read

RAR (nwaples/rardecode/v2):
  - Headers stream one at a time; some omit the decompressed size, which
    skips the precheck for that member and leans on the actual-bytes guard
  - The decoder reports encryption as an error at open or member read;
    both map to ErrPasswordRequired

# Usage

	ex, ok := archive.ForFilename(filename)
	if !ok {
		return nil // not a container we unpack
	}

	limits := archive.Limits{
		MaxTotalBytes: 2 << 30, // 2 GiB ceiling
		MaxRatio:      100,
	}
	err := ex.Extract(ctx, archivePath, workDir, limits, func(m archive.Member) error {
		// m.DiskPath is fully written; hand it to the scanner
		return scanMember(m)
	})
	switch {
	case errors.Is(err, archive.ErrPasswordRequired):
		// terminal, non-fatal: record and continue
	case errors.Is(err, archive.ErrUnsafePath),
		errors.Is(err, archive.ErrBombCeiling),
		errors.Is(err, archive.ErrBombRatio):
		// hostile archive: fail the job with a diagnostic
	}

# Performance Characteristics

Extraction cost:
  - One sequential pass per archive; members inflate one at a time
  - ZIP inflation runs a few hundred MB/s per core with the klauspost
    decoder; RAR is typically slower
  - The guards add one counter comparison per write, nothing measurable

Disk usage:
  - At most one archive's members on disk at a time, bounded by
    MaxTotalBytes, inside the per-job scratch directory
  - The pipeline deletes each member after scanning it, so peak usage is
    usually far below the ceiling

# Integration Points

This package integrates with:

  - pkg/pipeline: drives extraction into a per-job scratch directory and
    maps the sentinels to failure classes
  - pkg/scanner: consumes Member records for text members
  - pkg/config: MAX_DECOMPRESSED_BYTES and MAX_DECOMPRESSION_RATIO
    become the Limits values

# Design Patterns

Shared Guard Core:
  - Format decoders only parse; every safety decision lives in one place
  - A guard fix applies to all formats at once

Sentinel Errors:
  - Guard violations are values, not strings
  - Callers branch with errors.Is and never parse messages

Callback Walk:
  - The caller owns what happens to each member
  - Extraction state stays internal; no member list is accumulated

Fail-Stop Extraction:
  - First violation aborts the whole archive
  - A partially hostile archive is treated as wholly hostile

# Troubleshooting

Common Issues:

Jobs failing as unsafe_archive:
  - Symptom: extract_failures_total{reason="traversal"|"bomb"} rising
  - Cause: genuinely hostile archives in the channel
  - Expected: the refusal is the feature; the blob is kept for analysis

Legitimate archive rejected by ratio:
  - Symptom: highly compressible data (logs, dumps) trips MaxRatio
  - Solution: raise MAX_DECOMPRESSION_RATIO; 100 is conservative for
    text-heavy archives

Large archive rejected by ceiling:
  - Symptom: ErrBombCeiling on a known-good archive
  - Solution: raise MAX_DECOMPRESSED_BYTES and re-post the document,
    or extract the stored blob by hand

# See Also

  - pkg/pipeline for how sentinel errors become job failure classes
  - klauspost/compress: https://github.com/klauspost/compress
  - rardecode: https://github.com/nwaples/rardecode
*/
package archive
