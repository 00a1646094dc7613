// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package deletion

import (
	"testing"
)

func seq(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func TestBatches(t *testing.T) {
	tests := []struct {
		name  string
		ids   int
		size  int
		sizes []int
	}{
		{"empty", 0, 100, []int{}},
		{"single partial", 2, 100, []int{2}},
		{"exact", 200, 100, []int{100, 100}},
		{"with remainder", 250, 100, []int{100, 100, 50}},
		{"size one", 3, 1, []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := seq(tt.ids)
			batches, err := Batches(ids, tt.size)
			if err != nil {
				t.Fatalf("Batches() error = %v", err)
			}
			if len(batches) != len(tt.sizes) {
				t.Fatalf("Batches() returned %d batches, want %d", len(batches), len(tt.sizes))
			}

			var next int64 = 1
			for i, b := range batches {
				if b.Index != i {
					t.Errorf("batch %d has Index %d", i, b.Index)
				}
				if len(b.IDs) != tt.sizes[i] {
					t.Errorf("batch %d has %d ids, want %d", i, len(b.IDs), tt.sizes[i])
				}
				for _, id := range b.IDs {
					if id != next {
						t.Fatalf("batch %d: got id %d, want %d", i, id, next)
					}
					next++
				}
			}
		})
	}
}

func TestBatchesInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := Batches(seq(5), size); err == nil {
			t.Errorf("Batches(size=%d) expected error", size)
		}
	}
}

func TestSucceeded(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{200, true},
		{202, true},
		{204, true},
		{201, false},
		{400, false},
		{429, false},
		{500, false},
		{0, false},
	}
	for _, tt := range tests {
		if got := Succeeded(tt.status); got != tt.want {
			t.Errorf("Succeeded(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
