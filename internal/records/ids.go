// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package records

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteIDs writes ids to path as a pretty-printed JSON array.
func WriteIDs(path string, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ID list: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ID list: %w", err)
	}
	return nil
}

// ReadIDs loads a JSON array of integer IDs. A missing file is an error the
// caller can detect with errors.Is(err, fs.ErrNotExist).
func ReadIDs(path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ID list: %w", err)
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to parse ID list %s: %w", path, err)
	}
	return ids, nil
}
