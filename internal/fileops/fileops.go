package fileops

import (
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// Exists checks if a file or directory exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes a file.
func Remove(path string) error {
	return os.Remove(path)
}

// IsAudioFile checks if the file has an extension the engine accepts.
func IsAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	audioExts := map[string]bool{
		".wav":  true,
		".mp3":  true,
		".m4a":  true,
		".ogg":  true,
		".oga":  true,
		".flac": true,
		".aac":  true,
		".wma":  true,
		".webm": true,
		".mp4":  true,
		".mkv":  true,
	}
	return audioExts[ext]
}

// SafeExtension returns the lowercased extension of an uploaded filename,
// stripped of any path the client smuggled in. Unknown or missing
// extensions fall back to .audio so the temp name stays harmless.
func SafeExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if ext == "" || !IsAudioFile("x"+ext) {
		return ".audio"
	}
	return ext
}
