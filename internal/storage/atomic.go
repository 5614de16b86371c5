// Package storage provides crash-safe file persistence primitives shared by
// SecureStore, TxQueue, and every other subsystem that must never leave a
// half-written file behind if the process dies mid-write. AtomicWriteFile is
// kept nearly verbatim from the teacher repo's
// internal/services/storage.AtomicWriteFile (arcsign), which this module
// generalizes from "one wallet's encrypted mnemonic" to every persisted key.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data to filename using a temp-file-then-rename so a
// crash or power loss never leaves a partially written file in its place.
func AtomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".airchainpay-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync to disk: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, filename); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
