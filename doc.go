// Package bucketgo implements disk-backed object storage buckets on top
// of a pluggable binary serialization framework.
//
// # Overview
//
// Two bucket flavors cover different mutation profiles:
//
//   - BlockBucket tiles its file with variable-size blocks managed by a
//     first-fit free list. Freed blocks coalesce with free neighbors,
//     interior holes are reused by later stores, and a free tail shrinks
//     the file.
//   - LogBucket appends records to a flat log and tombstones deletions
//     in place. Once tombstoned bytes outweigh live bytes by a
//     configured threshold the log is compacted into a fresh file,
//     which invalidates open cursors.
//
// Both flavors key objects by identity, optionally group them by a
// locator string, and iterate them with cursors. Encoding is delegated
// to the serial package: callers register their types with a
// serial.Serializer and hand it to the bucket.
//
// # Usage
//
//	ser, err := serial.New(
//		serial.WithDefault(serial.TypeOf[*Note]("Note", DecodeNote)),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	bucket, err := bucketgo.OpenBlockBucket("notes.bkt",
//		bucketgo.WithSerializer(ser),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer bucket.Close()
//
//	if err := bucket.Store(&Note{ID: 1, Text: "hello"}); err != nil {
//		log.Fatal(err)
//	}
//
//	cursor := bucket.Cursor()
//	defer cursor.Close()
//	for cursor.Next() {
//		fmt.Println(cursor.Object())
//	}
//	if err := cursor.Err(); err != nil {
//		log.Fatal(err)
//	}
package bucketgo
