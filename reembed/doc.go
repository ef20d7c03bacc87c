// Package reembed re-embeds stored chunks with a new or updated embedding model.
//
// Chunks are visited document by document in batches. Each batch is embedded
// with exponential retry and written back in place, keeping positions and
// content untouched.
package reembed
