package main

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-dev/relay/internal/config"
)

var tableHeaderRe = regexp.MustCompile(`^\s*\[([^\]]+)\]\s*$`)

// quickKey describes one dotted key `relay config set` may edit in place.
// The assignment regex splits a line into prefix, current value and suffix
// so comments and spacing survive the rewrite.
type quickKey struct {
	table string
	name  string
	re    *regexp.Regexp
	check func(string) error
}

var quickKeys = map[string]quickKey{
	"executor.poll_interval": {
		table: "executor",
		name:  "poll_interval",
		re:    regexp.MustCompile(`^(\s*poll_interval\s*=\s*")([^"]*)(".*)$`),
		check: checkDuration,
	},
	"executor.max_concurrent": {
		table: "executor",
		name:  "max_concurrent",
		re:    regexp.MustCompile(`^(\s*max_concurrent\s*=\s*)(\d+)(\s*.*)$`),
		check: checkMaxConcurrent,
	},
	"router.default_category": {
		table: "router",
		name:  "default_category",
		re:    regexp.MustCompile(`^(\s*default_category\s*=\s*")([^"]*)(".*)$`),
		check: checkCategory,
	},
}

func quickKeyNames() []string {
	names := make([]string, 0, len(quickKeys))
	for k := range quickKeys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func checkDuration(v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", v, err)
	}
	if d <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %q", v)
	}
	return nil
}

func checkMaxConcurrent(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", v, err)
	}
	if n < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", n)
	}
	return nil
}

func checkCategory(v string) error {
	for _, cat := range config.Categories {
		if v == cat {
			return nil
		}
	}
	return fmt.Errorf("unknown category %q (known: %s)", v, strings.Join(config.Categories, ", "))
}

func setQuickKey(path, key, value string) (bool, error) {
	qk, ok := quickKeys[key]
	if !ok {
		return false, fmt.Errorf("unknown key %q (settable: %s)", key, strings.Join(quickKeyNames(), ", "))
	}
	if err := qk.check(value); err != nil {
		return false, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read config %s: %w", path, err)
	}

	updated, changed, err := setQuickKeyInContent(string(raw), qk, value)
	if err != nil {
		return false, fmt.Errorf("update %s in %s: %w", key, path, err)
	}
	if !changed {
		return false, nil
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return false, fmt.Errorf("write config %s: %w", path, err)
	}
	return true, nil
}

// setQuickKeyInContent rewrites the assignment inside the key's table only;
// the same identifier under other tables is left alone.
func setQuickKeyInContent(input string, qk quickKey, value string) (output string, changed bool, err error) {
	if strings.TrimSpace(input) == "" {
		return input, false, fmt.Errorf("config content is empty")
	}

	lines := strings.Split(input, "\n")
	currentTable := ""
	found := false

	for i, line := range lines {
		if m := tableHeaderRe.FindStringSubmatch(line); m != nil {
			currentTable = strings.ToLower(strings.TrimSpace(m[1]))
		}
		if currentTable != qk.table {
			continue
		}
		m := qk.re.FindStringSubmatch(line)
		if len(m) != 4 {
			continue
		}
		found = true
		updated := m[1] + value + m[3]
		if updated != line {
			lines[i] = updated
			changed = true
		}
	}

	if !found {
		return input, false, fmt.Errorf("[%s] %s not found", qk.table, qk.name)
	}

	output = strings.Join(lines, "\n")
	if strings.HasSuffix(input, "\n") && !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return output, changed, nil
}
