// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/andreyvit/diff"
	"github.com/stretchr/testify/require"
)

// PopulateTestDir creates the test files in the existing test directory.
func PopulateTestDir(t *testing.T, testdir string, testfiles map[string][]byte) {
	t.Helper()

	for file, content := range testfiles {
		require.NoError(t, os.MkdirAll(filepath.Join(testdir, filepath.Dir(file)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(testdir, file), content, 0o644))
	}
}

// CheckFileContains compares a file with the expected content and prints a diff on mismatch.
func CheckFileContains(t *testing.T, path string, content string) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	if string(data) != content {
		t.Errorf("Found differences in file %s:\n%s", path, diff.LineDiff(string(data), content))
	}
}

// ListFiles returns every regular file under dir, relative to it.
func ListFiles(t *testing.T, dir string) []string {
	t.Helper()

	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		files = append(files, rel)

		return nil
	})
	require.NoError(t, err)

	sort.Strings(files)

	return files
}

// Chdir changes the working directory to dir and restores it when the test ends.
func Chdir(t *testing.T, dir string) {
	t.Helper()

	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(prev)) })
}
