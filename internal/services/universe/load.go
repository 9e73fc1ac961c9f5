package universe

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// TickerPattern matches numeric Tokyo ids such as 7203.T
var TickerPattern = regexp.MustCompile(`\b\d{4}\.T\b`)

// LoadTickerFile reads ids from a plain or CSV file: the first column of each
// line, skipping blank lines, comments and a "ticker" header.
func LoadTickerFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ticker file %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		first := strings.TrimSpace(strings.SplitN(line, ",", 2)[0])
		if strings.EqualFold(first, "ticker") || first == "" {
			continue
		}
		out = append(out, first)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ticker file %s: %w", path, err)
	}
	return out, nil
}

// ExtractTickers returns the unique matches of pattern in text, in order of
// first appearance. A nil pattern uses TickerPattern.
func ExtractTickers(text string, pattern *regexp.Regexp) []string {
	if pattern == nil {
		pattern = TickerPattern
	}
	seen := make(map[string]bool)
	var out []string
	for _, m := range pattern.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
