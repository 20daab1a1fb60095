package session

import (
	cryptorand "crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/oklog/ulid/v2"
)

// DetermineRunBase determines the run name base for the given working
// directory. Git checkouts yield "<repo>-<branch>", everything else falls
// back to the directory name plus a short path hash.
func DetermineRunBase(cwd string) string {
	if info := getGitMetadata(cwd); info.valid {
		branch := info.branch
		if branch == "" {
			branch = "unknown"
		}
		return fmt.Sprintf("%s-%s", info.repoName, branch)
	}

	dirName := filepath.Base(cwd)
	pathHash := shortHash(cwd)
	return fmt.Sprintf("%s-%s", dirName, pathHash)
}

// shortHash generates a short hash of a string
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:4])
}

// GetProjectPath returns the project path (git root or cwd)
func GetProjectPath(cwd string) string {
	if info := getGitMetadata(cwd); info.valid && info.rootPath != "" {
		return info.rootPath
	}
	return cwd
}

// GetGitInfo returns git repository and branch information
func GetGitInfo(cwd string) (repo string, branch string) {
	info := getGitMetadata(cwd)
	if !info.valid {
		return "", ""
	}
	return info.repoName, info.branch
}

// DefaultRunBase returns the run name base for the current working directory
func DefaultRunBase() string {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Sprintf("default-%s", shortHash(fmt.Sprintf("%d", os.Getpid())))
	}
	return DetermineRunBase(cwd)
}

var runNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9\-]`)
var ulidEntropy = ulid.Monotonic(cryptorand.Reader, 0)

// NewRunID returns a unique run ID using the provided base name
func NewRunID(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "run"
	}
	base = strings.ToLower(strings.ReplaceAll(base, " ", "-"))
	base = runNameSanitizer.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "run"
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
	return fmt.Sprintf("%s-%s", base, strings.ToLower(id))
}

type gitMetadata struct {
	repoName string
	branch   string
	rootPath string
	valid    bool
}

type gitDetector struct {
	cache sync.Map
}

var defaultGitDetector = &gitDetector{}

func getGitMetadata(cwd string) gitMetadata {
	return defaultGitDetector.metadata(cwd)
}

func (d *gitDetector) metadata(cwd string) gitMetadata {
	if d == nil || cwd == "" {
		return gitMetadata{}
	}
	if cached, ok := d.cache.Load(cwd); ok {
		if info, ok := cached.(gitMetadata); ok {
			return info
		}
	}

	info := d.probe(cwd)
	d.cache.Store(cwd, info)
	return info
}

func (d *gitDetector) probe(cwd string) gitMetadata {
	info := gitMetadata{}

	repo, err := git.PlainOpenWithOptions(cwd, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return info
	}

	wt, err := repo.Worktree()
	if err != nil {
		return info
	}
	root := wt.Filesystem.Root()
	if root == "" {
		return info
	}
	info.rootPath = root
	info.repoName = filepath.Base(root)
	info.valid = true

	head, err := repo.Head()
	if err != nil {
		// Unborn branch in a fresh repo
		return info
	}
	if head.Name().IsBranch() {
		info.branch = head.Name().Short()
	} else {
		info.branch = head.Hash().String()[:8]
	}

	return info
}
