package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileInfo describes a media file that passed validation.
type FileInfo struct {
	Path string
	Name string
	Size int64
	Kind string
}

const (
	KindVideo = "video"
	KindAudio = "audio"
)

var extensions = map[string][]string{
	KindVideo: {".ivf"},
	KindAudio: {".ogg", ".opus"},
}

// ValidateFile checks that path is a readable, non-empty file whose
// extension matches kind ("video" or "audio").
func ValidateFile(path, kind string) (FileInfo, error) {
	allowed, ok := extensions[kind]
	if !ok {
		return FileInfo{}, fmt.Errorf("unknown media kind %q", kind)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory", path)
	}
	if stat.Size() == 0 {
		return FileInfo{}, fmt.Errorf("%s: file is empty", path)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	matched := false
	for _, a := range allowed {
		if ext == a {
			matched = true
			break
		}
	}
	if !matched {
		return FileInfo{}, fmt.Errorf("%s: %s input must be one of %s", path, kind, strings.Join(allowed, ", "))
	}

	f, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	f.Close()

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Kind: kind,
	}, nil
}
