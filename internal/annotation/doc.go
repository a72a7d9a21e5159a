// Package annotation defines the core types shared by the annotator subsystems:
// tables and records read from disk, the per-identifier lookup Outcome, chunks
// handed to workers, and the interfaces the fetch pipeline depends on.
package annotation
