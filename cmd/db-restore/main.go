// Command db-restore replaces the relay task queue database with a backup
// taken by db-backup. It refuses to run under a live executor, keeps a
// safety copy of the current database and rolls back if the restore fails.
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
		backupPath = flag.String("backup", "", "backup file path (required, .db or .db.gz)")
		dbPath     = flag.String("db", "~/.relay/task-queue.db", "target database path")
		verify     = flag.Bool("verify", true, "verify the restored database")
		dryRun     = flag.Bool("dry-run", false, "validate the backup without restoring")
		force      = flag.Bool("force", false, "overwrite an existing database")
	)
	flag.Parse()

	if *backupPath == "" {
		die("--backup path is required")
	}
	src := config.ExpandHome(*backupPath)
	dst := config.ExpandHome(*dbPath)
	compressed := strings.HasSuffix(src, ".gz")

	if _, err := os.Stat(src); err != nil {
		die("backup file: %v", err)
	}

	fmt.Printf("backup %s\n", src)
	fmt.Printf("target %s\n", dst)

	if err := verifyDatabase(src, compressed, false); err != nil {
		die("backup verification: %v", err)
	}
	fmt.Printf("backup verified\n")

	if *dryRun {
		fmt.Printf("✓ dry run, backup is restorable\n")
		return
	}

	// The executor rewrites tasks mid-tick; restoring under it corrupts
	// both copies.
	if alive, pid := health.IsRunning(filepath.Join(filepath.Dir(dst), "executor.pid")); alive {
		die("executor is running (pid %d), stop it before restoring", pid)
	}

	exists := false
	if _, err := os.Stat(dst); err == nil {
		exists = true
		if !*force {
			die("target exists (use --force to overwrite): %s", dst)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		die("create target directory: %v", err)
	}

	var safety string
	if exists {
		safety = dst + ".pre-restore-" + time.Now().Format("20060102-150405")
		fmt.Printf("safety copy %s\n", safety)
		if err := copyFile(dst, safety); err != nil {
			die("safety copy: %v", err)
		}
	}

	start := time.Now()
	if err := restore(src, dst, compressed); err != nil {
		if safety != "" {
			fmt.Printf("restore failed, rolling back\n")
			if rbErr := copyFile(safety, dst); rbErr != nil {
				die("restore failed and rollback failed: %v (restore error: %v)", rbErr, err)
			}
		}
		die("restore: %v", err)
	}
	fmt.Printf("restored in %v\n", time.Since(start).Round(time.Millisecond))

	if *verify {
		if err := verifyDatabase(dst, false, true); err != nil {
			die("restored database verification: %v", err)
		}
	}

	if safety != "" {
		if err := os.Remove(safety); err != nil {
			fmt.Printf("warning: could not remove safety copy %s: %v\n", safety, err)
		}
	}
	fmt.Printf("✓ restore complete\n")
}

// restore writes the backup over the target and drops stale -wal/-shm
// siblings, which would otherwise replay old pages over the restored file.
func restore(src, dst string, compressed bool) error {
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dst + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s%s: %v", dst, suffix, err)
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	var r io.Reader = in
	if compressed {
		gz, err := gzip.NewReader(in)
		if err != nil {
			return fmt.Errorf("open gzip: %v", err)
		}
		defer gz.Close()
		r = gz
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// verifyDatabase runs an integrity check and, when requireTables is set,
// insists on the relay schema being present.
func verifyDatabase(path string, compressed, requireTables bool) error {
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
			if requireTables {
				return fmt.Errorf("count %s: %v", table, err)
			}
			fmt.Printf("warning: backup has no %s table\n", table)
			continue
		}
		fmt.Printf("%s: %d rows\n", table, n)
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

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "db-restore: "+format+"\n", args...)
	os.Exit(1)
}
