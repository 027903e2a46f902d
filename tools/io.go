package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
)

// GetRootFolder is the directory relative tileset paths are read from: TILES_STREAMER_WORKDIR
// when set, the working directory otherwise.
func GetRootFolder() string {
	if root := os.Getenv("TILES_STREAMER_WORKDIR"); root != "" {
		return root
	}
	wd, err := os.Getwd()
	if err != nil {
		glog.Fatal("cannot retrieve working directory: ", err)
	}
	return wd
}

// IsRemote reports whether input is fetched over http rather than read from disk.
func IsRemote(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func CreateDirectoryIfDoesNotExist(directory string) error {
	if _, err := os.Stat(directory); os.IsNotExist(err) {
		err := os.MkdirAll(directory, 0777)
		if err != nil {
			return err
		}
	}
	return nil
}

// AbsolutePath resolves a local input against root.
func AbsolutePath(root, input string) string {
	if filepath.IsAbs(input) {
		return input
	}
	return filepath.Join(root, input)
}
