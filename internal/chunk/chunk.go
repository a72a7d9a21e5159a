// Package chunk partitions table rows into contiguous chunks for the worker pool.
package chunk

import "github.com/JakeFAU/uniprot-annotator/internal/annotation"

// Split partitions records into at most workers contiguous chunks of
// ceil(len(records)/workers) rows, the final chunk absorbing the remainder.
// Empty chunks are never returned, so a table smaller than the worker count
// yields fewer chunks. Chunks share the backing array of records.
func Split(records []annotation.Record, workers int) []annotation.Chunk {
	total := len(records)
	if total == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	size := (total + workers - 1) / workers

	chunks := make([]annotation.Chunk, 0, workers)
	for i := 0; i < workers; i++ {
		start := i * size
		if start >= total {
			break
		}
		end := start + size
		if i == workers-1 || end > total {
			end = total
		}
		chunks = append(chunks, annotation.Chunk{
			Index:   len(chunks),
			Offset:  start,
			Records: records[start:end:end],
		})
	}
	return chunks
}

// Join concatenates chunk records in chunk order.
func Join(chunks []annotation.Chunk) []annotation.Record {
	n := 0
	for _, c := range chunks {
		n += len(c.Records)
	}
	out := make([]annotation.Record, 0, n)
	for _, c := range chunks {
		out = append(out, c.Records...)
	}
	return out
}
