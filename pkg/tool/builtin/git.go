package builtin

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/stagehand-dev/stagehand/pkg/tool"
)

var errLogLimit = errors.New("log limit reached")

// GitStatus reports the current branch and the working tree status of
// a repository inside the workspace.
type GitStatus struct {
	workDirAware
}

// NewGitStatus builds the git_status tool.
func NewGitStatus() *GitStatus {
	return &GitStatus{}
}

func (t *GitStatus) Name() string { return "git_status" }

func (t *GitStatus) Description() string {
	return "Show the current branch and working tree status. Args: path (string, optional, defaults to the workspace root)."
}

func (t *GitStatus) Execute(args map[string]any) tool.Result {
	path, _ := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	full, err := t.resolvePath(path)
	if err != nil {
		return tool.Errorf("git_status: %v", err)
	}
	repo, err := git.PlainOpenWithOptions(full, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return tool.Errorf("git_status: %s is not inside a git repository", path)
	}

	branch := headLabel(repo)

	wt, err := repo.Worktree()
	if err != nil {
		return tool.Errorf("git_status: %v", err)
	}
	status, err := wt.Status()
	if err != nil {
		return tool.Errorf("git_status: %v", err)
	}
	if status.IsClean() {
		return tool.Ok(fmt.Sprintf("On branch %s\nWorking tree clean", branch))
	}

	paths := make([]string, 0, len(status))
	for p := range status {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	fmt.Fprintf(&b, "On branch %s\n", branch)
	for _, p := range paths {
		st := status[p]
		fmt.Fprintf(&b, "%c%c %s\n", st.Staging, st.Worktree, p)
	}
	return tool.Ok(strings.TrimRight(b.String(), "\n"))
}

// GitLog lists recent commits, newest first.
type GitLog struct {
	workDirAware
}

// NewGitLog builds the git_log tool.
func NewGitLog() *GitLog {
	return &GitLog{}
}

func (t *GitLog) Name() string { return "git_log" }

func (t *GitLog) Description() string {
	return "List recent commits, newest first. Args: path (string, optional), limit (int, optional, defaults to 10)."
}

func (t *GitLog) Execute(args map[string]any) tool.Result {
	path, _ := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	full, err := t.resolvePath(path)
	if err != nil {
		return tool.Errorf("git_log: %v", err)
	}
	repo, err := git.PlainOpenWithOptions(full, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return tool.Errorf("git_log: %s is not inside a git repository", path)
	}

	head, err := repo.Head()
	if err != nil {
		return tool.Errorf("git_log: repository has no commits yet")
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return tool.Errorf("git_log: %v", err)
	}
	defer iter.Close()

	limit := parseInt(args["limit"], 10)
	if limit <= 0 {
		limit = 10
	}

	var b strings.Builder
	count := 0
	err = iter.ForEach(func(c *object.Commit) error {
		if count >= limit {
			return errLogLimit
		}
		count++
		fmt.Fprintf(&b, "%s %s %s %s\n",
			c.Hash.String()[:8],
			c.Author.When.Format("2006-01-02"),
			c.Author.Name,
			firstLine(c.Message))
		return nil
	})
	if err != nil && !errors.Is(err, errLogLimit) {
		return tool.Errorf("git_log: %v", err)
	}
	if count == 0 {
		return tool.Ok("No commits")
	}
	return tool.Ok(strings.TrimRight(b.String(), "\n"))
}

// headLabel names HEAD: the short branch name when on a branch, the
// abbreviated hash when detached.
func headLabel(repo *git.Repository) string {
	head, err := repo.Head()
	if err != nil {
		return "(no commits yet)"
	}
	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return head.Hash().String()[:8] + " (detached)"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
