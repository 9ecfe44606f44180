package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/photoframe-go/internal/mediacache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the photo cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached photos",
		RunE:  runCacheList,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete cache files not listed in the cache index",
		RunE:  runCachePrune,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "evict <photo-id>...",
		Short: "Delete cached photos so the next refresh downloads them again",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCacheEvict,
	})

	return cmd
}

type cacheEntry struct {
	ID         string    `json:"id"`
	File       string    `json:"file"`
	MimeType   string    `json:"mime_type,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	CreateTime time.Time `json:"create_time,omitzero"`
	Size       int64     `json:"size"`
}

func openCache(cc *CLIContext) *mediacache.Store {
	return mediacache.NewStore(nil, mediacache.Options{Dir: cc.Cfg.Paths.CacheDir}, cc.Logger)
}

func runCacheList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	photos, _ := openCache(cc).LoadCached()
	entries := cacheEntries(photos)

	if cc.Flags.JSON {
		return printJSON(os.Stdout, entries)
	}

	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}

	printCacheTable(os.Stdout, entries)

	return nil
}

func cacheEntries(photos []mediacache.CachedPhoto) []cacheEntry {
	entries := make([]cacheEntry, 0, len(photos))

	for i := range photos {
		p := &photos[i]
		e := cacheEntry{
			ID:         p.ID,
			File:       p.FileName,
			MimeType:   p.MimeType,
			Filename:   p.Filename,
			CreateTime: p.CreateTime,
		}

		if info, err := os.Stat(p.LocalPath); err == nil {
			e.Size = info.Size()
		}

		entries = append(entries, e)
	}

	return entries
}

func printCacheTable(w io.Writer, entries []cacheEntry) {
	rows := make([][]string, 0, len(entries))

	var total int64

	for i := range entries {
		e := &entries[i]
		total += e.Size

		rows = append(rows, []string{e.ID, formatSize(e.Size), formatTime(e.CreateTime), e.Filename})
	}

	printTable(w, []string{"ID", "SIZE", "CREATED", "NAME"}, rows)
	fmt.Fprintf(w, "\n%s photos, %s\n", formatCount(len(entries)), formatSize(total))
}

func runCachePrune(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	// Serve may be writing partial downloads that the index does not list yet.
	if pid, ok := runningPID(cc.Cfg.PIDPath()); ok {
		return fmt.Errorf("serve is running (PID %d): stop it before pruning", pid)
	}

	store := openCache(cc)
	photos, _ := store.LoadCached()

	removed, err := store.Prune(photos)
	if err != nil {
		return err
	}

	cc.Statusf("Removed %s files, kept %s photos.\n", formatCount(removed), formatCount(len(photos)))

	return nil
}

func runCacheEvict(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	store := openCache(cc)

	for _, id := range args {
		if err := store.Evict(id); err != nil {
			return err
		}

		cc.Statusf("Evicted %s.\n", id)
	}

	return nil
}
