package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
)

type FileFinder interface {
	// GetTilesetFiles returns input itself when it is a file, otherwise the tileset json files
	// below it.
	GetTilesetFiles(input string, recursive bool) ([]string, error)
}

type StandardFileFinder struct{}

func NewStandardFileFinder() FileFinder {
	return &StandardFileFinder{}
}

func (f *StandardFileFinder) GetTilesetFiles(input string, recursive bool) ([]string, error) {
	baseInfo, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if !baseInfo.IsDir() {
		return []string{input}, nil
	}

	var tilesets = make([]string, 0)
	err = filepath.Walk(
		input,
		func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() && !recursive && !os.SameFile(info, baseInfo) {
				return filepath.SkipDir
			}
			if !info.IsDir() && strings.EqualFold(info.Name(), TilesetFileName) {
				tilesets = append(tilesets, path)
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	glog.V(1).Infof("found %d tilesets below %s", len(tilesets), input)
	return tilesets, nil
}
