package builtin

import (
	"time"

	"github.com/stagehand-dev/stagehand/pkg/tool"
)

// Options configures the builtin tool set from the tools section of
// the config.
type Options struct {
	WorkDir      string
	MaxReadBytes int64
	FetchTimeout time.Duration
}

// All returns the builtin tools wired with opts, ready to register.
func All(opts Options) []tool.Tool {
	tools := []tool.Tool{
		NewReadFile(opts.MaxReadBytes),
		NewWriteFile(),
		NewListDir(),
		NewGitStatus(),
		NewGitLog(),
		NewFetchPage(opts.FetchTimeout, opts.MaxReadBytes),
		NewReadSheet(),
	}
	if opts.WorkDir != "" {
		for _, t := range tools {
			if aware, ok := t.(interface{ SetWorkDir(string) }); ok {
				aware.SetWorkDir(opts.WorkDir)
			}
		}
	}
	return tools
}
