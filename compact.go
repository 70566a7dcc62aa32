package bucketgo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/time/rate"

	"github.com/hupe1980/bucketgo/binio"
)

// compactLocked rewrites the live records, in offset order, into a
// fresh file and swaps it in under the current path. Old record
// offsets die with the swap, so the compaction generation is bumped to
// invalidate every open cursor. Failure before the swap leaves the
// current log untouched. Callers hold the write lock.
func (b *LogBucket) compactLocked() error {
	type entry struct {
		id  ID
		rec *logRecord
	}
	entries := make([]entry, 0, len(b.byID))
	for id, rec := range b.byID {
		entries = append(entries, entry{id: id, rec: rec})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rec.off < entries[j].rec.off })

	tmpPath := b.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create compaction file: %w", err)
	}
	discard := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	limiter := b.compactLimiter()
	buf := make([]byte, copyBufSize(b.opts.bufferSize))
	newOffs := make([]int64, len(entries))
	var off int64
	for i, e := range entries {
		if err := b.copyRecord(tmp, off, e.rec, buf, limiter); err != nil {
			return discard(err)
		}
		newOffs[i] = off
		off += e.rec.span
	}

	if err := tmp.Sync(); err != nil {
		return discard(fmt.Errorf("failed to sync compaction file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close compaction file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to swap compaction file: %w", err)
	}

	// The path now names the compacted file; the old handle still reads
	// the replaced one. Losing the reopen strands the bucket between
	// the two, so it fails hard.
	f, err := os.OpenFile(b.path, os.O_RDWR, 0o644)
	if err != nil {
		return b.fail(fmt.Errorf("failed to reopen compacted file: %w", err))
	}
	_ = b.file.Close()
	b.file = f

	for i, e := range entries {
		e.rec.off = newOffs[i]
	}
	b.size = off
	b.deadBytes = 0
	b.gen++
	_ = syncDir(filepath.Dir(b.path))
	return nil
}

// copyRecord copies rec's bytes from the live log into dst at dstOff,
// one buffer at a time, pacing each chunk through the limiter.
func (b *LogBucket) copyRecord(dst *os.File, dstOff int64, rec *logRecord, buf []byte, limiter *rate.Limiter) error {
	for copied := int64(0); copied < rec.span; {
		n := int64(len(buf))
		if rem := rec.span - copied; rem < n {
			n = rem
		}
		if err := waitQuota(limiter, int(n)); err != nil {
			return err
		}
		// A full read at exact end of file may legally carry io.EOF.
		rn, err := b.file.ReadAt(buf[:n], rec.off+copied)
		if int64(rn) < n {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("failed to read record at offset %d: %w", rec.off, noEOF(err))
		}
		if _, err := dst.WriteAt(buf[:n], dstOff+copied); err != nil {
			return fmt.Errorf("failed to write compaction file: %w", err)
		}
		copied += n
	}
	return nil
}

func (b *LogBucket) compactLimiter() *rate.Limiter {
	if b.opts.compactRate <= 0 {
		return nil
	}
	burst := copyBufSize(b.opts.bufferSize)
	if int64(burst) > b.opts.compactRate {
		burst = int(b.opts.compactRate)
	}
	return rate.NewLimiter(rate.Limit(b.opts.compactRate), burst)
}

// copyBufSize resolves the configured buffer size the way the binio
// constructors do.
func copyBufSize(n int) int {
	if n <= 0 {
		return binio.DefaultBufferSize
	}
	return n
}

// waitQuota blocks until the limiter grants n bytes, splitting requests
// larger than the burst.
func waitQuota(limiter *rate.Limiter, n int) error {
	if limiter == nil {
		return nil
	}
	for n > 0 {
		chunk := n
		if burst := limiter.Burst(); chunk > burst {
			chunk = burst
		}
		if err := limiter.WaitN(context.Background(), chunk); err != nil {
			return fmt.Errorf("failed to pace compaction: %w", err)
		}
		n -= chunk
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
