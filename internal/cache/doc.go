// Package cache defines the disk-backed store that maps cache paths such as
// /_npm/d3@7.9.0/_esm.js onto files under the storage root. Writes go through a
// temp file + rename, so a path is either absent or fully written: presence of
// a file is what the resolver treats as "already cached", and a crash mid-write
// must never leave a partial file in its place.
package cache
