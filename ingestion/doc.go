// Package ingestion drives queued URL jobs through the ingestion pipeline.
//
// A Worker claims one job per RunOnce call and advances it through the
// stages fetch, extract, split, embed and store, recording each stage on the
// job before finalizing it as completed or failed. Errors never escape
// RunOnce; they are recorded on the job and reported in the Outcome.
//
// Drain runs RunOnce concurrently on a worker pool until the queue is empty,
// and Serve repeats Drain whenever a wake-up arrives or the poll interval
// elapses.
package ingestion
