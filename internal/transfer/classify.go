package transfer

import (
	"path/filepath"
	"strings"
)

// videoSuffixes are the file-name suffixes classified as VIDEO_FILE.
// Anything else assembled by the manager is treated as an image.
var videoSuffixes = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".m4v":  true,
}

func isVideoFile(name string) bool {
	return videoSuffixes[strings.ToLower(filepath.Ext(name))]
}
