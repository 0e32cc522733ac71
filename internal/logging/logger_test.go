package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesFormattedLineToFileAndEcho(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	var echo bytes.Buffer

	l := New(path, &echo)
	defer l.Close()

	l.Info("intercepted model=%s", "claude-haiku")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "intercepted model=claude-haiku")
	assert.Contains(t, echo.String(), "intercepted model=claude-haiku")
}

func TestLogger_ErrorLinesAreTagged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	l := New(path, nil)
	defer l.Close()

	l.Error("upstream failed: %v", "timeout")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[ERROR: ]upstream failed: timeout")
}

func TestLogger_EmptyPathDisablesFileWrite(t *testing.T) {
	var echo bytes.Buffer
	l := New("", &echo)
	defer l.Close()

	assert.NotPanics(t, func() {
		l.Info("hello")
	})
	assert.Contains(t, echo.String(), "hello")
}

func TestLogger_RotatesPastMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	l := New(path, nil)
	defer l.Close()

	line := strings.Repeat("x", 1024)
	for i := 0; i < (MaxSize/1024)+10; i++ {
		l.Info("%s", line)
	}

	_, err := os.Stat(path + ".1")
	require.NoError(t, err, "expected a rotated backup file to exist")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(MaxSize), "active log file should have been rotated fresh")
}

func TestLogger_KeepsAtMostMaxBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	l := New(path, nil)
	defer l.Close()

	line := strings.Repeat("x", 1024)
	rotations := MaxBackups + 2
	for r := 0; r < rotations; r++ {
		for i := 0; i < (MaxSize/1024)+1; i++ {
			l.Info("%s", line)
		}
	}

	_, err := os.Stat(path + "." + "4")
	assert.Error(t, err, "should not keep more than MaxBackups rotated files")
}
