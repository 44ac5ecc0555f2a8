// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/warden-foundation/warden/lib/authority"
)

// exportTrail writes every trail record as one JSON object per line,
// compressed per format ("zstd", "lz4", or "none"). Runs in place of
// the serve loop: the caller opens the store, exports, and exits.
func exportTrail(ctx context.Context, store *Store, path, format string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}

	var writer io.Writer = file
	finish := func() error { return nil }

	switch format {
	case "none":

	case "zstd":
		encoder, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			file.Close()
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		writer = encoder
		finish = encoder.Close

	case "lz4":
		encoder := lz4.NewWriter(file)
		writer = encoder
		finish = encoder.Close

	default:
		file.Close()
		return fmt.Errorf("unknown compression format %q (want zstd, lz4, or none)", format)
	}

	jsonEncoder := json.NewEncoder(writer)
	count := 0
	err = store.Records(ctx, 0, func(record authority.TrailRecord) error {
		count++
		return jsonEncoder.Encode(record)
	})
	if err != nil {
		finish()
		file.Close()
		return fmt.Errorf("exporting trail: %w", err)
	}

	if err := finish(); err != nil {
		file.Close()
		return fmt.Errorf("flushing %s stream: %w", format, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}

	fmt.Printf("exported %d trail records to %s\n", count, path)
	return nil
}

// verifyTrail replays the trail, recomputes the hash chain, and
// reports the result. A broken chain is an error so the exit code
// reflects it.
func verifyTrail(ctx context.Context, store *Store) error {
	mismatch, err := store.Verify(ctx)
	if err != nil {
		return fmt.Errorf("verifying trail: %w", err)
	}
	if mismatch != 0 {
		return fmt.Errorf("trail hash chain broken at seq %d", mismatch)
	}

	fmt.Printf("trail verified: %d records, hash chain intact\n", store.TrailCount())
	return nil
}
