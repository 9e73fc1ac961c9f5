package common

import (
	"fmt"
	"io"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner writes the startup banner for a command to w.
func PrintBanner(w io.Writer, command string, config *Config, logger *Logger) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 60
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	fmt.Fprintf(w, "\n%s\n\n", hr)
	fmt.Fprintf(w, "%s  WEEKSCAN  weekly reversal screener%s\n\n", textColor, banner.ColorReset)

	kvPad := 12
	kvLines := [][2]string{
		{"Version", GetFullVersion()},
		{"Command", command},
		{"Provider", config.Provider.Name},
		{"Cache", config.Storage.CacheDir},
		{"Environment", config.Environment},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(w, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}
	fmt.Fprintf(w, "\n%s\n\n", hr)

	logger.Info().
		Str("version", GetVersion()).
		Str("command", command).
		Str("provider", config.Provider.Name).
		Str("cache_dir", config.Storage.CacheDir).
		Msg("weekscan started")
}
