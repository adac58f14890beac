package bag

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RetentionManager prunes closed bag files in Dir per Policy, and supports
// an emergency free-N-bytes path the writer falls back to when a write
// hits ENOSPC, deleting closed files oldest-first until enough space is
// reclaimed or none remain.
type RetentionManager struct {
	Dir    string
	Policy RetentionPolicy
}

type bagFileInfo struct {
	path    string
	size    int64
	modTime time.Time
}

func (m RetentionManager) listBagFiles(excludePath string) ([]bagFileInfo, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return nil, err
	}
	var files []bagFileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".bag" {
			continue
		}
		path := filepath.Join(m.Dir, e.Name())
		if path == excludePath {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, bagFileInfo{path: path, size: info.Size(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	return files, nil
}

// Prune deletes files exceeding the age or count policy. currentPath (the
// actively-open file) is never considered for deletion.
func (m RetentionManager) Prune(currentPath string) (int, error) {
	files, err := m.listBagFiles(currentPath)
	if err != nil {
		return 0, err
	}

	toDelete := make(map[string]bool)

	if m.Policy.MaxAge > 0 {
		cutoff := time.Now().Add(-m.Policy.MaxAge)
		for _, f := range files {
			if f.modTime.Before(cutoff) {
				toDelete[f.path] = true
			}
		}
	}

	if m.Policy.MaxCount > 0 && len(files) > m.Policy.MaxCount {
		excess := len(files) - m.Policy.MaxCount
		for i := 0; i < excess; i++ {
			toDelete[files[i].path] = true
		}
	}

	deleted := 0
	for path := range toDelete {
		if err := os.Remove(path); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

// FreeBytes deletes the oldest closed bag files, oldest first, until at
// least wantBytes have been freed or no more files remain. Returns the
// number of bytes actually freed. currentPath is never deleted.
func (m RetentionManager) FreeBytes(currentPath string, wantBytes int64) (int64, error) {
	files, err := m.listBagFiles(currentPath)
	if err != nil {
		return 0, err
	}

	var freed int64
	for _, f := range files {
		if freed >= wantBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			continue
		}
		freed += f.size
	}
	return freed, nil
}
