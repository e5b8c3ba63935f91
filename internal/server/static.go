package server

import (
	"os"
	"path/filepath"
)

// DetectStaticRoot finds the frontend directory starting from the working
// directory and walking up two levels.
func DetectStaticRoot() string {
	startDir, err := os.Getwd()
	if err != nil {
		return "web"
	}

	candidates := []string{
		startDir,
		filepath.Dir(startDir),
		filepath.Dir(filepath.Dir(startDir)),
	}
	for _, dir := range candidates {
		for _, root := range []string{filepath.Join(dir, "web"), dir} {
			if fileExists(filepath.Join(root, "index.html")) {
				return root
			}
		}
	}
	return filepath.Join(startDir, "web")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
