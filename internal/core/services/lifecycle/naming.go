package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Image repository components allow single separators only.
var separatorRun = regexp.MustCompile(`[._-]{2,}`)

// ContainerName is the deterministic container name for a bundle.
func ContainerName(folder string) string {
	return "ms_" + folder
}

// ImageTag is the deterministic image tag for a bundle. Image repositories
// must be lowercase, so the tag carries a hash of the exact folder id to keep
// folders that differ only in case apart.
func ImageTag(folder string) string {
	sum := sha256.Sum256([]byte(folder))
	repo := separatorRun.ReplaceAllString(strings.ToLower(folder), "-")
	return "microservice_" + repo + ":" + hex.EncodeToString(sum[:])[:12]
}
