// Package merge reconciles a freshly written export with a previous one.
// The merge is one-directional: the new export is enriched with old content
// it is missing, and nothing already in the new export is deleted or
// overwritten.
package merge

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"sigexport/internal/transcript"
)

// Merger merges an old export tree into a new one.
type Merger struct {
	Logger *slog.Logger
}

func New(logger *slog.Logger) *Merger {
	return &Merger{Logger: logger}
}

// Run merges oldDir into destDir, conversation directory by conversation
// directory. Conversations present only in the old export are skipped: the
// merge never creates new conversation directories. A failure inside one
// conversation is logged and the rest proceed.
func (m *Merger) Run(destDir, oldDir string) error {
	if info, err := os.Stat(oldDir); err != nil || !info.IsDir() {
		return fmt.Errorf("old export directory not found: %s", oldDir)
	}
	if info, err := os.Stat(destDir); err != nil || !info.IsDir() {
		return fmt.Errorf("new export directory not found: %s", destDir)
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return fmt.Errorf("read new export: %w", err)
	}

	merged, skipped := 0, 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		sub := filepath.Join(destDir, name)
		oldSub := filepath.Join(oldDir, name)

		if info, err := os.Stat(oldSub); err != nil || !info.IsDir() {
			m.Logger.Info("skipping conversation not in old export", "conversation", name)
			skipped++
			continue
		}

		m.Logger.Info("merging conversation", "conversation", name)
		if err := m.mergeMedia(filepath.Join(sub, "media"), filepath.Join(oldSub, "media")); err != nil {
			m.Logger.Error("media merge failed, continuing", "conversation", name, "error", err)
		}
		if err := m.mergeTranscript(filepath.Join(sub, "index.md"), filepath.Join(oldSub, "index.md")); err != nil {
			m.Logger.Error("transcript merge failed, continuing", "conversation", name, "error", err)
		}
		merged++
	}

	m.Logger.Info("merge complete", "merged", merged, "skipped", skipped)
	fmt.Printf("Merge complete: %d conversations merged, %d skipped\n", merged, skipped)
	return nil
}

// mergeMedia copies files present in the old media directory but absent (by
// name) in the new one. Existing files win; contents are never compared.
func (m *Merger) mergeMedia(newMedia, oldMedia string) error {
	info, err := os.Stat(oldMedia)
	if err != nil {
		m.Logger.Info("no old media directory to merge")
		return nil
	}
	if !info.IsDir() {
		m.Logger.Warn("old media path is not a directory", "path", oldMedia)
		return nil
	}

	if err := os.MkdirAll(newMedia, 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}

	entries, err := os.ReadDir(oldMedia)
	if err != nil {
		return fmt.Errorf("read old media: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		dest := filepath.Join(newMedia, entry.Name())
		if _, err := os.Stat(dest); err == nil {
			m.Logger.Info("skipping existing media file", "file", entry.Name())
			continue
		}
		if err := copyFile(filepath.Join(oldMedia, entry.Name()), dest); err != nil {
			return fmt.Errorf("copy %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// mergeTranscript parses both transcripts into logical lines, concatenates
// old-then-new, and drops lines textually identical to one already seen.
// First-seen order is preserved, so old lines keep their order, then new
// lines minus duplicates. The result replaces the new transcript.
func (m *Merger) mergeTranscript(newPath, oldPath string) error {
	oldData, err := os.ReadFile(oldPath)
	if err != nil {
		m.Logger.Info("old transcript not found", "path", oldPath)
		return nil
	}
	newData, err := os.ReadFile(newPath)
	if err != nil {
		m.Logger.Warn("new transcript not found", "path", newPath)
		return nil
	}

	if len(oldData) == 0 {
		m.Logger.Info("old transcript is empty, nothing to merge")
		return nil
	}
	if len(newData) == 0 {
		m.Logger.Info("new transcript is empty, using old only")
		return os.WriteFile(newPath, oldData, 0o644)
	}

	oldMsgs := transcript.Parse(transcript.SplitLines(string(oldData)), m.Logger)
	newMsgs := transcript.Parse(transcript.SplitLines(string(newData)), m.Logger)

	if len(oldMsgs) == 0 && len(newMsgs) == 0 {
		m.Logger.Warn("no messages found in either transcript")
		return nil
	}

	// Dedup by exact textual identity of the full logical line. Near
	// duplicates (same message rendered with a different attachment name)
	// are deliberately kept.
	seen := make(map[string]bool, len(oldMsgs)+len(newMsgs))
	var out []byte
	for _, msg := range append(oldMsgs, newMsgs...) {
		line := msg.Line()
		if seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line...)
	}

	m.Logger.Info("transcripts merged", "old", len(oldMsgs), "new", len(newMsgs), "total", len(seen))
	return os.WriteFile(newPath, out, 0o644)
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}
