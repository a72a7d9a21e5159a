// Package store declares the persistence contract for annotation run progress.
// The Postgres implementation lives in internal/storage/postgres; the progress
// store sink feeds it from the event hub.
package store
