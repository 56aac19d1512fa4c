package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForExistingFile(t *testing.T) {
	log, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "ready.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, WaitForFile(ctx, path, log))
}

func TestWaitForCreatedFile(t *testing.T) {
	log, _ := test.NewNullLogger()
	dir := t.TempDir()
	path := filepath.Join(dir, "late.bin")

	go func() {
		time.Sleep(50 * time.Millisecond)
		os.WriteFile(filepath.Join(dir, "other.bin"), []byte("y"), 0644)
		os.WriteFile(path, []byte("x"), 0644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, WaitForFile(ctx, path, log))
	assert.FileExists(t, path)
}

func TestWaitForFileTimesOut(t *testing.T) {
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := WaitForFile(ctx, filepath.Join(t.TempDir(), "never.bin"), log)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForFileMissingDirectory(t *testing.T) {
	log, _ := test.NewNullLogger()
	err := WaitForFile(context.Background(), filepath.Join(t.TempDir(), "nope", "f.bin"), log)
	assert.Error(t, err)
}

func TestWaitIgnoresDirectories(t *testing.T) {
	log, _ := test.NewNullLogger()
	dir := t.TempDir()
	path := filepath.Join(dir, "target")
	require.NoError(t, os.Mkdir(path, 0755))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, WaitForFile(ctx, path, log), context.DeadlineExceeded)
}
