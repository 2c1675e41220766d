// Package migrations applies the SQL files under migrations/ in version order.
package migrations

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Direction selects the up or down file of a migration.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migration represents a database migration file.
type Migration struct {
	Version   string
	Name      string
	Direction Direction
	FilePath  string
}

// String returns the migration identifier.
func (m Migration) String() string {
	return fmt.Sprintf("%s_%s.%s.sql", m.Version, m.Name, m.Direction)
}

// LoadFromDir loads migrations of one direction from dir, sorted by version.
// Files not named <version>_<name>.<direction>.sql are ignored.
func LoadFromDir(dir string, direction Direction) ([]Migration, error) {
	var migrations []Migration

	suffix := fmt.Sprintf(".%s.sql", direction)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, suffix) {
			return nil
		}

		// 000001_organizations.up.sql -> version=000001, name=organizations
		baseName := strings.TrimSuffix(filepath.Base(path), suffix)
		parts := strings.SplitN(baseName, "_", 2)
		if len(parts) != 2 {
			return nil
		}

		migrations = append(migrations, Migration{
			Version:   parts[0],
			Name:      parts[1],
			Direction: direction,
			FilePath:  path,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// ReadContent reads the content of a migration file.
func ReadContent(m Migration) ([]byte, error) {
	return os.ReadFile(m.FilePath)
}
