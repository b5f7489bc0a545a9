// Package artifact collects files a run left in its staging directory
// and hands them to the external encryption/archival collaborator. The
// walk is symlink-safe: staging content comes from inside the container,
// so a symlink pointing at host paths is treated as hostile.
package artifact

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gantryhq/gantry/internal/log"
	"github.com/gantryhq/gantry/internal/marker"
)

// CollectedFile is one staged file, reported relative to the staging root
// so callers preserve folder structure downstream.
type CollectedFile struct {
	// Path is the file's path relative to the staging root.
	Path string
	// AbsPath is the file's absolute host path.
	AbsPath string
	Size    int64
}

// Handle is the opaque reference returned by the archival collaborator.
type Handle struct {
	ID string
}

// Archiver is the external encryption/archival collaborator. Each staged
// file is handed over as an opaque blob plus its relative-path label.
type Archiver interface {
	Archive(absPath, label string) (Handle, error)
}

// Collect walks the staging directory and returns the files in it.
//
// Symbolic links are never followed, not even ones resolving inside the
// root; every candidate file's resolved path must stay strictly inside
// the resolved staging root. Violations are logged as security events
// and skipped, and collection continues for the remaining entries. The
// completion marker itself is bookkeeping, not an artifact, and is
// excluded.
func Collect(stagingRoot string) ([]CollectedFile, error) {
	resolvedRoot, err := filepath.EvalSymlinks(stagingRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolving staging root: %w", err)
	}

	var files []CollectedFile
	err = filepath.WalkDir(resolvedRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if d.Type()&fs.ModeSymlink != 0 {
			// Rejected outright, valid target or not. WalkDir does not
			// descend into symlinked directories, so one check covers
			// both directory and leaf links.
			log.Error("symlink in staging directory rejected",
				"path", path, "staging_root", resolvedRoot)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(resolvedRoot, path)
		if relErr != nil {
			return relErr
		}
		if rel == marker.FileName {
			return nil
		}

		// Containment check on the fully resolved path. A parent
		// component swapped for a symlink between walk and collection
		// would otherwise smuggle the file out.
		resolved, resolveErr := filepath.EvalSymlinks(path)
		if resolveErr != nil {
			log.Warn("skipping unresolvable staging entry", "path", path, "error", resolveErr)
			return nil
		}
		if !within(resolvedRoot, resolved) {
			log.Error("staging entry escapes staging root",
				"path", path, "resolved", resolved, "staging_root", resolvedRoot)
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		files = append(files, CollectedFile{
			Path:    rel,
			AbsPath: resolved,
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking staging directory: %w", err)
	}

	return files, nil
}

// CollectAndArchive collects staged files and hands each to the archival
// collaborator. A failed archive is logged and skipped; the remaining
// files are still delivered.
func CollectAndArchive(stagingRoot string, archiver Archiver) ([]Handle, error) {
	files, err := Collect(stagingRoot)
	if err != nil {
		return nil, err
	}

	var handles []Handle
	for _, f := range files {
		h, archiveErr := archiver.Archive(f.AbsPath, f.Path)
		if archiveErr != nil {
			log.Warn("archiving staged file failed", "path", f.Path, "error", archiveErr)
			continue
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// within reports whether path is strictly inside root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}
