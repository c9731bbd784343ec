package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoMatchingFile is returned when no file in a directory matches a pattern.
var ErrNoMatchingFile = errors.New("no matching file")

// LatestFile returns the most recently modified file in dir matching pattern.
func LatestFile(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", pattern, err)
	}

	var latest string
	var latestInfo os.FileInfo
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if latestInfo == nil || info.ModTime().After(latestInfo.ModTime()) ||
			(info.ModTime().Equal(latestInfo.ModTime()) && path > latest) {
			latest, latestInfo = path, info
		}
	}

	if latestInfo == nil {
		return "", fmt.Errorf("%w: %s in %s", ErrNoMatchingFile, pattern, dir)
	}
	return latest, nil
}
