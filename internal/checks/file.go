package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/svchecks/internal/supervisor"
)

// DefaultHeartbeatDir is where cooperating processes keep their heartbeat files.
func DefaultHeartbeatDir() string { return filepath.Join(os.TempDir(), "supervisor_checks") }

const defaultHeartbeatName = "%(process_group)s-%(process_name)s-%(process_pid)s"

type fileCheck struct {
	base
	timeout     time.Duration
	failOnError bool
	template    string
	now         func() time.Time
}

func newFileCheck(p Params, o *options) (Check, error) {
	c := &fileCheck{base: newBase(KindFile, o), now: o.now}
	r := reader{b: c.base, p: p}
	var err error
	if c.timeout, err = r.seconds("timeout", 0, true); err != nil {
		return nil, err
	}
	if c.failOnError, err = r.bool("fail_on_error", true); err != nil {
		return nil, err
	}
	dir, err := r.string("dir", DefaultHeartbeatDir(), false)
	if err != nil {
		return nil, err
	}
	tmpl, err := r.string("file", "", false)
	if err != nil {
		return nil, err
	}
	if tmpl == "" {
		tmpl = defaultHeartbeatName
	}
	if !filepath.IsAbs(tmpl) {
		tmpl = filepath.Join(dir, tmpl)
	}
	if _, err := filepath.Match(expandTemplate(tmpl, supervisor.ProcessInfo{}), ""); err != nil {
		return nil, c.invalid("file", "bad glob pattern %q: %v", tmpl, err)
	}
	c.template = tmpl
	return c, nil
}

// expandTemplate substitutes the %(process_group)s style placeholders.
func expandTemplate(tmpl string, p supervisor.ProcessInfo) string {
	return strings.NewReplacer(
		"%(process_group)s", p.Group,
		"%(process_name)s", p.Name,
		"%(process_pid)s", strconv.Itoa(p.PID),
	).Replace(tmpl)
}

func (c *fileCheck) Check(_ context.Context, p supervisor.ProcessInfo) bool {
	path := expandTemplate(c.template, p)
	name, changed, err := newestChange(path)
	if err != nil {
		if c.failOnError {
			c.log.Error("heartbeat file unavailable", "process", p.Name, "file", path, "error", err)
			return false
		}
		c.log.Warn("heartbeat file unavailable, ignoring", "process", p.Name, "file", path, "error", err)
		return true
	}
	age := c.now().Sub(changed)
	if age > c.timeout {
		c.log.Error("heartbeat file is stale", "process", p.Name, "file", name,
			"age", age.Round(time.Second), "timeout", c.timeout)
		return false
	}
	c.log.Debug("heartbeat file is fresh", "process", p.Name, "file", name, "age", age.Round(time.Millisecond))
	return true
}

// newestChange resolves path, which may be a glob pattern, and returns the
// match that changed most recently.
func newestChange(path string) (string, time.Time, error) {
	matches := []string{path}
	if strings.ContainsAny(path, `*?[`) {
		var err error
		if matches, err = filepath.Glob(path); err != nil {
			return "", time.Time{}, err
		}
		if len(matches) == 0 {
			return "", time.Time{}, fmt.Errorf("no file matches %s: %w", path, os.ErrNotExist)
		}
	}
	var (
		newest   string
		newestAt time.Time
		lastErr  error
	)
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			lastErr = err
			continue
		}
		if at := changeTime(m, fi); newest == "" || at.After(newestAt) {
			newest, newestAt = m, at
		}
	}
	if newest == "" {
		return "", time.Time{}, lastErr
	}
	return newest, newestAt, nil
}
