package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"m2mconv/internal/config"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff"}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// collectInputs expands args into image files. Directories contribute their
// image files in name order; files are taken as given.
func collectInputs(args []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		path, err := config.ExpandPath(strings.TrimSpace(arg))
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("inspect input %q: %w", path, err)
		}
		if !info.IsDir() {
			inputs = append(inputs, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read input directory %q: %w", path, err)
		}
		found := 0
		for _, entry := range entries {
			if entry.IsDir() || !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
				continue
			}
			inputs = append(inputs, filepath.Join(path, entry.Name()))
			found++
		}
		if found == 0 {
			return nil, fmt.Errorf("input directory %q contains no images", path)
		}
	}
	return inputs, nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
