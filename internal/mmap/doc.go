// Package mmap provides read-only memory-mapped file access.
//
// A Mapping exposes the whole file as a byte slice and implements
// io.ReaderAt, so storage scans can walk file contents without copying
// them through intermediate buffers. Advise passes access-pattern hints
// to the kernel on platforms that support them.
//
// Close is idempotent. The slice returned by Bytes is valid only until
// Close is called.
package mmap
