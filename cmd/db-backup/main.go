// Command db-backup snapshots the relay task queue database. It checkpoints
// the WAL so the copy is one self-contained file, optionally gzips it and
// verifies the result before reporting success.
package main

import (
	"compress/gzip"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antigravity-dev/relay/internal/config"
	"github.com/antigravity-dev/relay/internal/health"
)

func main() {
	var (
		dbPath     = flag.String("db", "~/.relay/task-queue.db", "source database path")
		backupPath = flag.String("backup", "", "destination path (default: <name>-backup-<timestamp>.db in the working directory)")
		verify     = flag.Bool("verify", true, "run an integrity check on the backup")
		compress   = flag.Bool("compress", false, "gzip the backup")
		checkpoint = flag.Bool("checkpoint", true, "checkpoint the WAL into the main file first")
	)
	flag.Parse()

	src := config.ExpandHome(*dbPath)
	if _, err := os.Stat(src); err != nil {
		die("source database: %v", err)
	}

	dst := config.ExpandHome(*backupPath)
	if dst == "" {
		ext := ".db"
		if *compress {
			ext = ".db.gz"
		}
		base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		dst = fmt.Sprintf("%s-backup-%s%s", base, time.Now().Format("20060102-150405"), ext)
	}

	// A live executor is fine for a read: WAL readers don't block the
	// writer. Say so anyway, the snapshot trails any in-flight tick.
	if alive, pid := health.IsRunning(filepath.Join(filepath.Dir(src), "executor.pid")); alive {
		fmt.Printf("note: executor is running (pid %d), backing up the live database\n", pid)
	}

	fmt.Printf("source      %s\n", src)
	fmt.Printf("destination %s\n", dst)

	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			die("create backup directory: %v", err)
		}
	}

	if *checkpoint {
		if err := checkpointWAL(src); err != nil {
			fmt.Printf("warning: checkpoint failed, backup may miss recent writes: %v\n", err)
		}
	}

	start := time.Now()
	if err := copyDatabase(src, dst, *compress); err != nil {
		die("backup: %v", err)
	}
	fmt.Printf("copied in %v\n", time.Since(start).Round(time.Millisecond))

	if *verify {
		if err := verifyBackup(dst, *compress); err != nil {
			die("verify: %v", err)
		}
	}

	if info, err := os.Stat(dst); err == nil {
		fmt.Printf("✓ backup %s (%.2f MB)\n", dst, float64(info.Size())/(1<<20))
	}
}

// checkpointWAL merges the write-ahead log into the main database file so a
// plain file copy captures everything committed so far.
func checkpointWAL(path string) error {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func copyDatabase(src, dst string, compress bool) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	var w io.Writer = out
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(out)
		w = gz
	}
	if _, err := io.Copy(w, in); err != nil {
		out.Close()
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			out.Close()
			return err
		}
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func verifyBackup(path string, compressed bool) error {
	dbPath := path
	if compressed {
		tmp, err := decompressToTemp(path)
		if err != nil {
			return err
		}
		defer os.Remove(tmp)
		dbPath = tmp
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %v", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}

	for _, table := range []string{"tasks", "executions", "rate_limits"} {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return fmt.Errorf("count %s: %v", table, err)
		}
		fmt.Printf("verified %s: %d rows\n", table, n)
	}
	return nil
}

func decompressToTemp(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("open gzip: %v", err)
	}
	defer gz.Close()

	tmp, err := os.CreateTemp("", "relay-verify-*.db")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, gz); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("decompress: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "db-backup: "+format+"\n", args...)
	os.Exit(1)
}
