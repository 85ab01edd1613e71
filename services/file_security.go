package services

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/runawaydevil/ScoutBot/logger"
)

// Extensions blocked from upload. Anything that can execute or install code
// must be wrapped in an archive first.
var dangerousExtensions = map[string]bool{
	".exe": true, ".msi": true, ".bat": true, ".cmd": true, ".com": true, ".scr": true, ".pif": true,
	".sh": true, ".bash": true, ".zsh": true, ".fish": true, ".ps1": true, ".vbs": true, ".js": true, ".jse": true,
	".sys": true, ".dll": true, ".drv": true,
	".lnk": true, ".url": true,
	".deb": true, ".rpm": true, ".pkg": true, ".dmg": true, ".app": true,
	".jar": true, ".apk": true, ".ipa": true,
}

// Archive formats are always accepted, even when they contain blocked types.
var safeArchiveExtensions = map[string]bool{
	".zip": true, ".7z": true, ".rar": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true,
	".tar.gz": true, ".tar.bz2": true, ".tar.xz": true, ".tgz": true, ".tbz2": true,
}

// suffixes returns every dot-extension of a filename, e.g. "a.pdf.exe" ->
// [".pdf", ".exe"], so renamed executables hiding behind a double extension
// are caught.
func suffixes(filename string) []string {
	base := filepath.Base(filename)
	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return nil
	}
	out := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		out = append(out, "."+strings.ToLower(p))
	}
	return out
}

func IsDangerousFile(filename string) bool {
	for _, ext := range suffixes(filename) {
		if dangerousExtensions[ext] {
			return true
		}
	}
	return false
}

func IsSafeArchive(filename string) bool {
	exts := suffixes(filename)
	if len(exts) == 0 {
		return false
	}
	if len(exts) >= 2 {
		// Compound forms like ".tar.gz".
		if safeArchiveExtensions[exts[len(exts)-2]+exts[len(exts)-1]] {
			return true
		}
	}
	return safeArchiveExtensions[exts[len(exts)-1]]
}

// ValidateFileSafety decides whether a file may enter the upload queue.
// The reason is user-facing when the file is rejected.
func ValidateFileSafety(filename string) (bool, string) {
	if IsSafeArchive(filename) {
		return true, "archive file"
	}

	if IsDangerousFile(filename) {
		ext := strings.ToLower(filepath.Ext(filename))
		logger.Warnf("blocked dangerous file: %s (extension: %s)", filename, ext)
		return false, fmt.Sprintf(
			"file type '%s' is not allowed for security reasons; compress it in a ZIP archive first", ext)
	}

	return true, "safe file"
}

func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	replacer := strings.NewReplacer("..", "_", "/", "_", "\\", "_")
	name = replacer.Replace(name)
	return strings.Trim(name, ". ")
}

type FileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Ext      string `json:"extension"`
	Safe     bool   `json:"is_safe"`
}

func GetFileInfo(path string) (FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}

	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(name))
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return FileInfo{
		Filename: name,
		Size:     stat.Size(),
		MimeType: mimeType,
		Ext:      ext,
		Safe:     IsSafeArchive(name) || !IsDangerousFile(name),
	}, nil
}
