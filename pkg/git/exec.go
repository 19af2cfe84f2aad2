package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Env vars that are allowed to be inherited from the OS
var allowedEnvVars = []string{
	"http_proxy", "https_proxy", "no_proxy", "HTTPS_PROXY", "NO_PROXY",
	"HOME", "XDG_CONFIG_HOME",
}

type gitCmdConfig struct {
	dir string
	env []string
	out io.Writer
}

type threadSafeBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *threadSafeBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *threadSafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// execGitCmd runs a `git` command with the supplied arguments. Any occurrence of the
// client's token in the command output is redacted before it reaches an error.
func (c *Client) execGitCmd(ctx context.Context, args []string, config gitCmdConfig) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if config.dir != "" {
		cmd.Dir = config.dir
	}
	cmd.Env = append(env(), config.env...)
	output := &threadSafeBuffer{}
	cmd.Stdout = output
	cmd.Stderr = output
	if config.out != nil {
		cmd.Stdout = io.MultiWriter(output, config.out)
	}

	err := cmd.Run()
	if err != nil {
		if out := c.redact(output.String()); out != "" {
			err = errors.New(out)
			if msg := findErrorMessage(out); msg != "" {
				err = fmt.Errorf("%s, full output:\n %s", msg, out)
			}
		}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(ctx.Err(), fmt.Sprintf("running git command: git %s", args[0]))
	} else if ctx.Err() == context.Canceled {
		return errors.Wrap(ctx.Err(), fmt.Sprintf("context cancelled while running git command: git %s", args[0]))
	}
	return err
}

func (c *Client) redact(s string) string {
	s = strings.TrimSpace(s)
	if c.Token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.Token, "***")
}

func env() []string {
	env := []string{"GIT_TERMINAL_PROMPT=0"}
	for _, k := range allowedEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

func findErrorMessage(output string) string {
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		switch {
		case strings.HasPrefix(sc.Text(), "fatal: "):
			return sc.Text()
		case strings.HasPrefix(sc.Text(), "error:"):
			return strings.TrimPrefix(sc.Text(), "error: ")
		}
	}
	return ""
}
