package main

import (
	"bytes"
	"testing"

	"github.com/mohammad-safakhou/urska/internal/progress"
	"github.com/stretchr/testify/assert"
)

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, 1, progress.QueuePosition(2))
	printEvent(&buf, 2, progress.Notification("Planning..."))
	printEvent(&buf, 3, progress.Fail("PlanFormatError", "bad plan"))
	assert.Equal(t, "   1 queue position 2\n   2 Notification Planning...\n   3 error PlanFormatError: bad plan\n", buf.String())
}

func TestCommandsRegistered(t *testing.T) {
	var path string
	for _, cmd := range []struct {
		name string
		use  string
	}{
		{"serve", serveCMD(&path).Use},
		{"ask", askCMD(&path).Use},
		{"migrate", migrateCMD(&path).Use},
		{"tail", tailCMD(&path).Use},
		{"tools", toolsCMD(&path).Use},
	} {
		assert.Contains(t, cmd.use, cmd.name)
	}
}

func TestTailReclaimFlag(t *testing.T) {
	var path string
	cmd := tailCMD(&path)
	f := cmd.Flags().Lookup("reclaim")
	if assert.NotNil(t, f) {
		assert.Equal(t, "0s", f.DefValue)
	}
	assert.NoError(t, cmd.Flags().Parse([]string{"--reclaim", "30s"}))
	v, err := cmd.Flags().GetDuration("reclaim")
	assert.NoError(t, err)
	assert.Equal(t, "30s", v.String())
}
