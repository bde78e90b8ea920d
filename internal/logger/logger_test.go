package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset() {
	mu.Lock()
	Logger = nil
	initialized = false
	mu.Unlock()
}

func TestInit_WritesToFile(t *testing.T) {
	reset()
	t.Cleanup(reset)

	path := filepath.Join(t.TempDir(), "logs", "dorian.log")
	require.NoError(t, Init(LogConfig{Level: "debug", FilePath: path, RotationTime: "1h"}))

	ForPerson("emily").Info("portrait generated")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "portrait generated")
	assert.Contains(t, string(data), "person=emily")
	assert.Equal(t, logrus.DebugLevel, GetLogger().GetLevel())
}

func TestInit_InvalidRotation(t *testing.T) {
	reset()
	t.Cleanup(reset)

	err := Init(LogConfig{FilePath: filepath.Join(t.TempDir(), "x.log"), RotationTime: "weekly"})
	assert.Error(t, err)
}

func TestGetLogger_DefaultsBeforeInit(t *testing.T) {
	reset()
	t.Cleanup(reset)

	l := GetLogger()
	require.NotNil(t, l)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}
