package watcher

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/cleverdata/cloud-courier/internal/config"
)

// Enumerate lists the files already present in a watched folder that pass its
// patterns. Subfolders are only descended into when the folder is recursive.
func Enumerate(fs afero.Fs, folder config.FolderWatchConfig) ([]string, error) {
	root := filepath.Clean(folder.FolderPath)

	if !folder.Recursive {
		infos, err := afero.ReadDir(fs, root)
		if err != nil {
			return nil, fmt.Errorf("read folder %s: %w", root, err)
		}
		var files []string
		for _, fi := range infos {
			path := filepath.Join(root, fi.Name())
			if fi.Mode().IsRegular() && folder.Matches(path) {
				files = append(files, path)
			}
		}
		return files, nil
	}

	var files []string
	err := afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() && folder.Matches(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk folder %s: %w", root, err)
	}
	return files, nil
}

// subdirectories returns dir and every directory below it.
func subdirectories(fs afero.Fs, dir string) ([]string, error) {
	var dirs []string
	err := afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}
