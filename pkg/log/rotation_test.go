// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFileWriterWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	w, err := NewRotatingFileWriter(RotationConfig{Filename: path})
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.NoError(t, w.Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))
}

func TestRotatingFileWriterRotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	w, err := NewRotatingFileWriter(RotationConfig{Filename: path, MaxSize: 1, MaxBackups: 5})
	require.NoError(t, err)
	defer w.Close()

	payload := make([]byte, 2*1024*1024)
	_, err = w.Write(payload)
	require.NoError(t, err)

	_, err = w.Write([]byte("second file"))
	require.NoError(t, err)

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestGetWriterFallsBackToStdoutOnUnwritablePath(t *testing.T) {
	w := getWriter(filepath.Join(string([]byte{0}), "app.log"), RotationConfig{})
	assert.NotNil(t, w)
}

func TestNewLoggerUsesRotatingFileWriterForFileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logger.log")

	logger, err := NewLogger(&Config{
		Level:       "info",
		OutputPaths: []string{path},
		Encoding:    "json",
		Rotation:    RotationConfig{MaxSize: 50, MaxBackups: 3},
	})
	require.NoError(t, err)

	logger.Info("wired")
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "wired")
}
