// Package scheduler holds the in-memory priority queue of collection
// requests and the periodic drain loop that launches executions under
// single-flight semantics.
package scheduler
