// Package stream exchanges serialized objects over byte streams.
//
// # Overview
//
// A stream is a self-describing container: a six-byte header carrying a
// magic number, format version and compression algorithm, followed by
// length-prefixed records and a null record as terminator. The record
// payload optionally passes through LZ4 or ZSTD block compression;
// readers pick the algorithm up from the header, so a reader needs no
// configuration beyond the serializer that decodes the records.
//
// Streams complement the bucket packages: buckets own files and
// indexes, streams move the same records over any io.Writer and
// io.Reader for transport or backup.
//
// # Usage
//
//	w, err := stream.NewWriter(f, ser, stream.WithCompression(stream.CompressionZSTD))
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, obj := range objs {
//		if err := w.Write(obj); err != nil {
//			log.Fatal(err)
//		}
//	}
//	if err := w.Close(); err != nil {
//		log.Fatal(err)
//	}
//
//	r, err := stream.NewReader(f, ser)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for {
//		obj, err := r.Next()
//		if err == io.EOF {
//			break
//		}
//		if err != nil {
//			log.Fatal(err)
//		}
//		use(obj)
//	}
package stream
