package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/corvusec/magpie/pkg/blobstore"
	"github.com/corvusec/magpie/pkg/repository"
	"github.com/corvusec/magpie/pkg/types"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Verify store and database consistency",
	Long: `Walk every processed file row, verify its blob exists in the
content store and hashes back to its recorded value, then report
blobs on disk that no row references.

Orphan blobs are reported but are not an error: a crash between
storing a blob and committing its row leaves one behind harmlessly.`,
	RunE: runFsck,
}

func init() {
	fsckCmd.Flags().String("db", "", "SQLite database path (defaults to DATABASE_URL)")
	fsckCmd.Flags().String("store", "", "Content store root (defaults to STORAGE_PATH)")
	fsckCmd.Flags().Bool("fast", false, "Skip re-hashing blob contents")
	fsckCmd.Flags().Int("workers", 8, "Parallel hash verifications")

	rootCmd.AddCommand(fsckCmd)
}

func runFsck(cmd *cobra.Command, args []string) error {
	dsn, _ := cmd.Flags().GetString("db")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	root, _ := cmd.Flags().GetString("store")
	if root == "" {
		root = os.Getenv("STORAGE_PATH")
	}
	if dsn == "" || root == "" {
		return fmt.Errorf("--db and --store (or DATABASE_URL and STORAGE_PATH) are required")
	}
	fast, _ := cmd.Flags().GetBool("fast")
	workers, _ := cmd.Flags().GetInt("workers")
	if workers < 1 {
		workers = 1
	}

	repo, err := repository.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer repo.Close()

	store, err := blobstore.New(root)
	if err != nil {
		return fmt.Errorf("failed to open content store: %v", err)
	}

	ctx := cmd.Context()
	referenced := make(map[string]bool)

	var (
		mu                     sync.Mutex // guards the counters and output
		rows, missing, corrupt int
	)
	flag := func(counter *int, format string, a ...any) {
		mu.Lock()
		defer mu.Unlock()
		*counter++
		fmt.Printf(format, a...)
	}

	// Hash verification is IO-bound; a bounded group keeps several blobs
	// in flight while the row walk continues.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	err = repo.ListProcessedFiles(ctx, func(pf types.ProcessedFile) error {
		rows++
		referenced[pf.FileHash] = true

		if pf.StoragePath != store.Path(pf.FileHash) {
			flag(&corrupt, "bad storage path: %s recorded as %s\n", pf.FileHash, pf.StoragePath)
			return nil
		}
		if !store.Exists(pf.FileHash) {
			flag(&missing, "missing blob: %s (%s, %q)\n", pf.FileHash, pf.ExternalRef, pf.Filename)
			return nil
		}
		if fast {
			return nil
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rc, err := store.Open(pf.StoragePath)
			if err != nil {
				return fmt.Errorf("failed to open blob %s: %v", pf.FileHash, err)
			}
			hash, size, err := blobstore.HashReader(rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("failed to hash blob %s: %v", pf.FileHash, err)
			}
			if hash != pf.FileHash {
				flag(&corrupt, "corrupt blob: %s hashes to %s\n", pf.FileHash, hash)
			} else if size != pf.SizeBytes {
				flag(&corrupt, "size drift: %s is %d bytes, row says %d\n", pf.FileHash, size, pf.SizeBytes)
			}
			return nil
		})
		return nil
	})
	if err != nil {
		return err
	}
	if err := g.Wait(); err != nil {
		return err
	}

	orphans, err := countOrphans(store, referenced)
	if err != nil {
		return err
	}

	fmt.Printf("\nChecked %d rows: %d missing, %d corrupt, %d orphan blobs\n",
		rows, missing, corrupt, orphans)
	if missing > 0 || corrupt > 0 {
		return fmt.Errorf("consistency check failed")
	}
	fmt.Println("✓ Store and database are consistent")
	return nil
}

// countOrphans walks the store for blobs no processed_files row points
// at. Session files, the scratch area and anything else that is not
// hash-named is ignored.
func countOrphans(store *blobstore.Store, referenced map[string]bool) (int, error) {
	orphans := 0
	err := filepath.WalkDir(store.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		if !blobstore.ValidHash(name) {
			return nil
		}
		if !referenced[name] {
			orphans++
			fmt.Printf("orphan blob: %s\n", name)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk store: %v", err)
	}
	return orphans, nil
}
