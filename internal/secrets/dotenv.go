package secrets

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// SetEntry sets KEY=value in the .env file at path, replacing an existing
// assignment in place and keeping every other line untouched. The file is
// created with mode 0600 when missing.
func SetEntry(path, key, value string) error {
	lines, err := readLines(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	entry := key + "=" + quote(value)
	replaced := false
	for i, line := range lines {
		if lineKey(line) == key {
			lines[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}

// lineKey returns the variable assigned on line, or "" for blanks and comments.
func lineKey(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	k, _, ok := strings.Cut(line, "=")
	if !ok {
		return ""
	}
	return strings.TrimSpace(k)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// quote wraps values the dotenv loader would otherwise split or trim.
func quote(v string) string {
	if strings.ContainsAny(v, " \t\"'#$") {
		return `"` + v + `"`
	}
	return v
}
