// Package fingerprint computes the Cache Fingerprint (component G):
// a digest over a hook's Docker image, install script, and the
// contents of its tracked files at a given commit, used to tag a
// cached install-phase image. Grounded on Job.get_cache_id() in
// kozmic/models.py, which builds the same digest from the same
// ingredients, one sha256 update per tracked file's GitHub blob sha.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
)

// ContentLookup resolves a repo-relative path to a content digest at a
// commit, narrowing internal/githost's go-github-backed client down to
// the two calls this package needs.
type ContentLookup interface {
	// FileSHA returns the blob sha for a regular file, or ok=false if
	// the path does not exist at ref. A directory is represented by
	// DirEntries instead.
	FileSHA(ctx context.Context, owner, repo, p, ref string) (sha string, ok bool, err error)
	// DirEntries returns (path, sha) pairs for every entry directly
	// under p, or ok=false if p is not a directory.
	DirEntries(ctx context.Context, owner, repo, p, ref string) (entries []Entry, ok bool, err error)
}

// Entry is one directory entry's path and blob sha.
type Entry struct {
	Path string
	SHA  string
}

// Compute builds the fingerprint for imageDigest+installScript+trackedFiles
// at commitSHA in owner/repo. imageDigest must be the image's resolved
// immutable digest, not a mutable tag (spec.md §4.7) — retagging the
// same repository to a different digest, or vice versa, must change
// the fingerprint, which a tag alone can't guarantee. Tracked files
// are processed in sorted path order so the digest is stable
// regardless of input order, matching the original's
// `order_by(TrackedFile.path)`.
func Compute(ctx context.Context, lookup ContentLookup, owner, repo, commitSHA, imageDigest, installScript string, trackedFiles []string) (string, error) {
	sorted := append([]string(nil), trackedFiles...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(imageDigest))
	h.Write([]byte(installScript))

	for _, tracked := range sorted {
		p := path.Clean(tracked)
		if p == "." {
			p = ""
		}

		entries, isDir, err := lookup.DirEntries(ctx, owner, repo, p, commitSHA)
		if err != nil {
			return "", fmt.Errorf("fingerprint: listing %s: %w", p, err)
		}
		if isDir {
			sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
			for _, e := range entries {
				h.Write([]byte(e.Path))
				h.Write([]byte(e.SHA))
			}
			continue
		}

		sha, ok, err := lookup.FileSHA(ctx, owner, repo, p, commitSHA)
		if err != nil {
			return "", fmt.Errorf("fingerprint: looking up %s: %w", p, err)
		}
		if ok {
			h.Write([]byte(p))
			h.Write([]byte(sha))
		} else {
			// Path doesn't exist, but it still has to be in the digest
			// so a removal is detectable.
			h.Write([]byte(p))
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ImageTag formats a cache image reference the way the Job Runner
// (component H) tags its install-phase commit: kozmic-cache/<digest>
// repo, <project id> tag.
func ImageTag(digest, projectID string) string {
	return fmt.Sprintf("kozmic-cache/%s:%s", digest, projectID)
}
