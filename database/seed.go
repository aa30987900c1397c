/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const unorderedSeedFile = 999

var seedOrderPattern = regexp.MustCompile(`^(\d+)_`)

// SeedFile is one SQL file found under the seed root.
type SeedFile struct {
	Path  string
	Name  string
	Order int
	Scope string
}

// SeedManager executes SQL seed files. Files under <root>/common run first,
// then files under <root>/<environment>, each group ordered by its numeric
// "NNN_" prefix. ${VAR} references are expanded from the process environment.
// Every file runs in its own transaction and is recorded in the migration log
// by content hash, so unchanged files are not applied twice.
type SeedManager struct {
	db          *bun.DB
	root        string
	environment string
	logger      Logger
}

// NewSeedManager creates a seeder reading from root.
func NewSeedManager(db *bun.DB, config DataInitConfig, logger Logger) *SeedManager {
	if logger == nil {
		logger = nopLogger{}
	}
	env := strings.TrimSpace(config.Environment)
	if env == "" {
		env = EnvDevelopment
	}
	return &SeedManager{
		db:          db,
		root:        config.Filepath,
		environment: env,
		logger:      logger,
	}
}

// Run applies every pending seed file and returns how many were applied.
func (s *SeedManager) Run(ctx context.Context) (int, error) {
	if s.root == "" {
		return 0, nil
	}
	if _, err := s.db.NewCreateTable().Model((*Migration)(nil)).IfNotExists().Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	files, err := s.Files()
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		s.logger.Info("No seed files found", "path", s.root)
		return 0, nil
	}

	applied := 0
	for _, file := range files {
		ok, err := s.apply(ctx, file)
		if err != nil {
			return applied, fmt.Errorf("seed file %s failed: %w", file.Name, err)
		}
		if ok {
			applied++
		}
	}
	s.logger.Info("Seed data completed", "applied", applied, "total", len(files), "environment", s.environment)
	return applied, nil
}

// Files lists the seed files in execution order.
func (s *SeedManager) Files() ([]SeedFile, error) {
	var files []SeedFile
	scopes := []struct{ dir, scope string }{
		{filepath.Join(s.root, "common"), "common"},
		{filepath.Join(s.root, s.environment), s.environment},
	}
	for _, sc := range scopes {
		found, err := listSeedFiles(sc.dir, sc.scope)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	// A flat directory without scope folders is treated as common.
	if len(files) == 0 {
		found, err := listSeedFiles(s.root, "common")
		if err != nil {
			return nil, err
		}
		files = found
	}
	return files, nil
}

func listSeedFiles(dir, scope string) ([]SeedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read seed directory %s: %w", dir, err)
	}

	var files []SeedFile
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".sql") {
			continue
		}
		files = append(files, SeedFile{
			Path:  filepath.Join(dir, e.Name()),
			Name:  e.Name(),
			Order: seedFileOrder(e.Name()),
			Scope: scope,
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Order != files[j].Order {
			return files[i].Order < files[j].Order
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func seedFileOrder(name string) int {
	m := seedOrderPattern.FindStringSubmatch(name)
	if len(m) < 2 {
		return unorderedSeedFile
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return unorderedSeedFile
	}
	return n
}

func (s *SeedManager) apply(ctx context.Context, file SeedFile) (bool, error) {
	content, err := os.ReadFile(file.Path)
	if err != nil {
		return false, fmt.Errorf("failed to read file: %w", err)
	}
	sum := sha256.Sum256(content)
	version := fmt.Sprintf("seed:%s/%s:%s", file.Scope, file.Name, hex.EncodeToString(sum[:8]))

	exists, err := s.db.NewSelect().Model((*Migration)(nil)).Where("version = ?", version).Exists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		s.logger.Debug("Seed file already applied", "file", file.Name)
		return false, nil
	}

	statements := SplitSQLStatements(os.ExpandEnv(string(content)))
	start := time.Now()
	var rowsAffected int64
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, stmt := range statements {
			res, err := tx.ExecContext(ctx, stmt)
			if err != nil {
				return fmt.Errorf("failed to execute SQL statement %q: %w", stmt, err)
			}
			n, _ := res.RowsAffected()
			rowsAffected += n
		}
		_, err := tx.NewInsert().Model(&Migration{
			Version:     version,
			Name:        "seed",
			AppliedAt:   time.Now().UTC(),
			Description: fmt.Sprintf("seed file %s/%s", file.Scope, file.Name),
		}).Exec(ctx)
		return err
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("Seed file applied", "file", file.Name, "scope", file.Scope,
		"statements", len(statements), "rows_affected", rowsAffected, "duration", time.Since(start).String())
	return true, nil
}

// SplitSQLStatements splits a script on semicolons outside of quoted strings
// and drops "--" comment lines.
func SplitSQLStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
		quote      rune
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(script, "\n") {
		if quote == 0 && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch {
			case quote != 0:
				if r == quote {
					quote = 0
				}
			case r == '\'' || r == '"':
				quote = r
			case r == ';':
				flush()
				continue
			}
			current.WriteRune(r)
		}
		current.WriteByte('\n')
	}
	flush()
	return statements
}
