package pipeline

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLogTees(t *testing.T) {
	var process bytes.Buffer
	var sunk []string
	l := NewRunLog(log.NewLogfmtLogger(&process), func(line string) { sunk = append(sunk, line) })

	require.NoError(t, l.Log("msg", "creating pipeline", "stack", "php"))
	require.NoError(t, log.With(l, "version", "7.3").Log("msg", "php 7.3 built"))

	text := l.String()
	assert.Contains(t, text, `msg="creating pipeline" stack=php`)
	assert.Contains(t, text, `version=7.3 msg="php 7.3 built"`)
	assert.Contains(t, text, "ts=")
	assert.Equal(t, 2, strings.Count(text, "\n"))

	assert.Contains(t, process.String(), "php 7.3 built")
	require.Len(t, sunk, 2)
	assert.NotContains(t, sunk[0], "\n")
}

func TestRunLogConcurrent(t *testing.T) {
	l := NewRunLog(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Log("msg", "line")
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, strings.Count(l.String(), "\n"))
}
