// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"context"

	"github.com/netSkope/destlist-cleanup/internal/umbrella"
)

// ListSource is the Umbrella API surface used by the exporter.
type ListSource interface {
	Authenticate(ctx context.Context) error
	ListDestinationLists(ctx context.Context) ([]umbrella.DestinationList, error)
	ListDestinations(ctx context.Context, listID string) ([]umbrella.Destination, error)
}

// Chooser picks one of several options and returns its 0-based index.
type Chooser interface {
	Choose(title string, options []string, question string) (int, error)
}

// ExportResult describes a written export file.
type ExportResult struct {
	Path     string // Absolute path
	ListID   string
	ListName string
	Count    int
}
