// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package deletion

import "fmt"

// Batch is a contiguous slice of the ID list sent in one delete request.
type Batch struct {
	Index int // 0-based
	IDs   []int64
}

// Batches partitions ids into contiguous batches of at most size ids,
// preserving order. An empty list yields no batches.
func Batches(ids []int64, size int) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}

	batches := make([]Batch, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, Batch{
			Index: len(batches),
			IDs:   ids[start:end:end],
		})
	}
	return batches, nil
}
