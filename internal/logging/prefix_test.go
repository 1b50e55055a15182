package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type captureLog struct {
	lines []string
}

func (c *captureLog) Close() {}
func (c *captureLog) Debugf(format string, a ...interface{}) {
	c.lines = append(c.lines, "D "+fmt.Sprintf(format, a...))
}
func (c *captureLog) Infof(format string, a ...interface{}) {
	c.lines = append(c.lines, "I "+fmt.Sprintf(format, a...))
}
func (c *captureLog) Warnf(format string, a ...interface{}) {
	c.lines = append(c.lines, "W "+fmt.Sprintf(format, a...))
}
func (c *captureLog) Errorf(format string, a ...interface{}) {
	c.lines = append(c.lines, "E "+fmt.Sprintf(format, a...))
}
func (c *captureLog) Criticalf(format string, a ...interface{}) {
	c.lines = append(c.lines, "C "+fmt.Sprintf(format, a...))
}

func TestPrefixLogger(t *testing.T) {
	c := &captureLog{}
	l := NewPrefixLogger(c, "session:")
	l.Infof("opened %v", "a.jpg")
	l.Warnf("x")
	l.Errorf("%v boxes", 3)
	require.Equal(t, []string{"I session: opened a.jpg", "W session: x", "E session: 3 boxes"}, c.lines)
}
