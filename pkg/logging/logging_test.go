package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewParsesLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, logrus.DebugLevel, New("debug").GetLevel())
	assert.Equal(t, logrus.WarnLevel, New("warn").GetLevel())
	assert.Equal(t, logrus.InfoLevel, New("nonsense").GetLevel())
	assert.Equal(t, logrus.InfoLevel, New("").GetLevel())
}

func TestOrDefault(t *testing.T) {
	t.Parallel()

	l := New("error")
	assert.Same(t, l, OrDefault(l))
	assert.Same(t, Default(), OrDefault(nil))
}
