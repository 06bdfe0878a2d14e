// Command sigexport reads the Signal Desktop data directory and exports
// attachments and per-conversation chat transcripts to a destination
// directory, as markdown plus paginated HTML.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"

	"sigexport/internal/config"
	"sigexport/internal/export"
	"sigexport/internal/htmlout"
	"sigexport/internal/merge"
	"sigexport/internal/signaldb"
)

func main() {
	_ = godotenv.Load() // a .env beside the binary may hold SIGNAL_SOURCE_DIR etc.

	cfg := parseFlags(config.Load())
	setupLogging(cfg.Verbose)

	if err := run(context.Background(), cfg); err != nil {
		slog.Error("export failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(cfg config.Config) config.Config {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: sigexport [flags] [DEST]\n\n"+
				"Export Signal Desktop conversations to DEST (default %q),\n"+
				"one directory per chat with index.md, media/ and index.html.\n\n"+
				"Default Signal directories:\n"+
				"  Linux:   ~/.config/Signal\n"+
				"  macOS:   ~/Library/Application Support/Signal\n"+
				"  Windows: ~/AppData/Roaming/Signal\n\nFlags:\n", cfg.Dest)
		flag.PrintDefaults()
	}

	flag.StringVar(&cfg.Source, "source", cfg.Source, "path to the Signal data directory")
	flag.StringVar(&cfg.Source, "s", cfg.Source, "shorthand for -source")
	flag.StringVar(&cfg.Chats, "chats", cfg.Chats, "comma-separated chat names to include (contact or group names)")
	flag.StringVar(&cfg.Chats, "c", cfg.Chats, "shorthand for -chats")
	flag.BoolVar(&cfg.ListChats, "list-chats", cfg.ListChats, "list all available chats and exit")
	flag.StringVar(&cfg.OldExport, "old", cfg.OldExport, "path to a previous export to merge with")
	flag.BoolVar(&cfg.Overwrite, "overwrite", cfg.Overwrite, "overwrite an existing output directory")
	flag.BoolVar(&cfg.Overwrite, "o", cfg.Overwrite, "shorthand for -overwrite")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose output")
	flag.BoolVar(&cfg.Manual, "manual", cfg.Manual, "decrypt the database via the sqlcipher CLI instead of in-process")
	flag.BoolVar(&cfg.Manual, "m", cfg.Manual, "shorthand for -manual")
	flag.Parse()

	if flag.NArg() > 0 {
		cfg.Dest = flag.Arg(0)
	}
	return cfg
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()

	srcDir, err := cfg.SourceDir()
	if err != nil {
		return err
	}
	configPath := filepath.Join(srcDir, "config.json")
	dbPath := filepath.Join(srcDir, "sql", "db.sqlite")

	logger.Info("starting export", "source", srcDir, "dest", cfg.Dest, "manual", cfg.Manual)

	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("Signal config file not found at %s: run Signal Desktop at least once, or point -source at the directory containing config.json and sql/db.sqlite", configPath)
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("Signal database not found at %s: run Signal Desktop at least once (and close it before exporting), or fix -source", dbPath)
	}

	key, err := config.ReadKey(configPath, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Fetching data from %s\n", dbPath)
	contacts, convos, err := fetchData(ctx, dbPath, key, cfg, logger)
	if err != nil {
		return err
	}

	if cfg.ListChats {
		names := make([]string, 0, len(contacts))
		for _, c := range contacts {
			if name := c.DisplayName(); name != "" {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	if err := prepareDest(cfg.Dest, cfg.Overwrite, logger); err != nil {
		return err
	}

	index := export.BuildDirIndex(contacts)
	exporter := export.New(logger)

	fmt.Println("Copying and renaming attachments")
	if err := exporter.CopyAttachments(srcDir, cfg.Dest, convos, contacts, index); err != nil {
		return err
	}

	fmt.Println("Creating markdown files")
	if err := exporter.WriteTranscripts(cfg.Dest, convos, contacts, index); err != nil {
		return err
	}

	if cfg.OldExport != "" {
		fmt.Printf("Merging old export at %s (no existing files will be deleted or overwritten)\n", cfg.OldExport)
		if err := merge.New(logger).Run(cfg.Dest, cfg.OldExport); err != nil {
			return err
		}
	}

	fmt.Println("Creating HTML files")
	if err := htmlout.New(logger, cfg.MessagesPerPage).WriteAll(cfg.Dest); err != nil {
		return err
	}

	fmt.Printf("Done! Files exported to %s.\n", cfg.Dest)
	return nil
}

// fetchData opens the encrypted store, loads everything, and closes the
// handle before returning so any plaintext sibling produced by fallback
// decryption is removed before file rendering starts.
func fetchData(ctx context.Context, dbPath, key string, cfg config.Config, logger *slog.Logger) (map[string]*signaldb.Contact, map[string][]signaldb.Message, error) {
	db, err := signaldb.Open(ctx, dbPath, key, signaldb.Options{Manual: cfg.Manual, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	return db.LoadConversations(ctx, cfg.ChatNames(), logger)
}

func prepareDest(dest string, overwrite bool, logger *slog.Logger) error {
	info, err := os.Stat(dest)
	switch {
	case os.IsNotExist(err):
		return os.MkdirAll(dest, 0o755)
	case err != nil:
		return fmt.Errorf("stat destination: %w", err)
	case !info.IsDir():
		return fmt.Errorf("destination %s exists and is not a directory", dest)
	case overwrite:
		logger.Warn("overwriting existing directory", "dest", dest)
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("remove existing destination: %w", err)
		}
		return os.MkdirAll(dest, 0o755)
	default:
		return fmt.Errorf("output directory %s already exists: use -overwrite to replace it, -old to merge a previous export into a fresh one, or pick a different destination", dest)
	}
}
