// Package upload receives chunked archive uploads: it persists chunks per session,
// decides when a session is complete, reassembles the archive and reclaims abandoned
// sessions.
//
// All state lives on disk under one temp root:
//
//	<root>/<session_id>/chunk-<index>   in-flight chunks
//	<root>/<session_id>.zip             assembled archive
//	<root>/<session_id>-extracted/      unpacked tree
//	<root>/<session_id>-extracted.part/ unpack in progress
//	<root>/<session_id>.lock            lease held while a stage runs
package upload

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gramport/internal/apperror"
)

const (
	chunkPrefix     = "chunk-"
	archiveSuffix   = ".zip"
	extractSuffix   = "-extracted"
	lockSuffix      = ".lock"
	partSuffix      = ".part"
	maxSessionIDLen = 128
)

var sessionIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Layout derives every on-disk path of a session from its id.
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

func (l Layout) SessionDir(id string) string {
	return filepath.Join(l.Root, id)
}

func (l Layout) ChunkPath(id string, index int) string {
	return filepath.Join(l.SessionDir(id), chunkName(index))
}

func (l Layout) ArchivePath(id string) string {
	return filepath.Join(l.Root, id+archiveSuffix)
}

func (l Layout) ExtractDir(id string) string {
	return filepath.Join(l.Root, id+extractSuffix)
}

// ExtractStagingDir receives the unpacked tree before it is renamed onto ExtractDir.
func (l Layout) ExtractStagingDir(id string) string {
	return filepath.Join(l.Root, id+extractSuffix+partSuffix)
}

func (l Layout) LockPath(id string) string {
	return filepath.Join(l.Root, id+lockSuffix)
}

// NormalizeSessionID lower-cases id and rejects anything that is not a safe
// single path segment.
func NormalizeSessionID(raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case id == "":
		return "", apperror.New(apperror.InvalidInput, "Missing upload id")
	case len(id) > maxSessionIDLen:
		return "", apperror.New(apperror.InvalidInput, "Upload id is too long")
	case !sessionIDPattern.MatchString(id):
		return "", apperror.New(apperror.InvalidInput, "Invalid upload id")
	case strings.HasSuffix(id, extractSuffix):
		return "", apperror.New(apperror.InvalidInput, "Invalid upload id")
	}
	return id, nil
}

// SessionIDFromEntry maps a top-level temp entry name back to its session id.
func SessionIDFromEntry(name string) string {
	for _, suffix := range []string{archiveSuffix + partSuffix, archiveSuffix, lockSuffix, extractSuffix + partSuffix, extractSuffix} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	if sessionIDPattern.MatchString(name) {
		return name
	}
	return ""
}

func chunkName(index int) string {
	return chunkPrefix + strconv.Itoa(index)
}

// parseChunkName returns the index encoded in a chunk file name. Only canonical
// decimal names count, so "chunk-01" or temp files never match.
func parseChunkName(name string) (int, bool) {
	if !strings.HasPrefix(name, chunkPrefix) {
		return 0, false
	}
	raw := strings.TrimPrefix(name, chunkPrefix)
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 || strconv.Itoa(index) != raw {
		return 0, false
	}
	return index, true
}
