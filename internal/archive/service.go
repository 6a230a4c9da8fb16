// Package archive keeps a git history of exported fixtures, one repository
// per user, so any past export can be recovered by commit hash.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Fixture kinds stored in the archive.
const (
	KindMirror = "mirror"
	KindUpdate = "update"
)

// SnapshotInfo describes one archived export.
type SnapshotInfo struct {
	Hash      string    `json:"hash"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service owns the per-user archive repositories under baseDir.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Snapshot commits a fixture payload to the user's archive and returns the
// commit it produced. The repository is created on first use.
func (s *Service) Snapshot(userID, kind string, payload []byte, authorName string) (SnapshotInfo, error) {
	if kind != KindMirror && kind != KindUpdate {
		return SnapshotInfo{}, fmt.Errorf("unknown fixture kind %q", kind)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(userID)
	if err != nil {
		return SnapshotInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	filename := kind + ".json"
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), filename), payload, 0o644); err != nil {
		return SnapshotInfo{}, fmt.Errorf("write %s: %w", filename, err)
	}
	if _, err := worktree.Add(filename); err != nil {
		return SnapshotInfo{}, fmt.Errorf("git add %s: %w", filename, err)
	}

	// Re-exporting an unchanged board still records an export event.
	hash, err := worktree.Commit(fmt.Sprintf("Export %s fixture", kind), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  authorName,
			Email: sanitizeEmail(authorName) + "@local.corkboard.dev",
			When:  time.Now(),
		},
	})
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("commit %s fixture: %w", kind, err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toSnapshotInfo(commitObj), nil
}

// History lists the user's archived exports, newest first.
func (s *Service) History(userID string, limit int) ([]SnapshotInfo, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(userID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []SnapshotInfo{}, nil
		}
		return nil, fmt.Errorf("open archive: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]SnapshotInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toSnapshotInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// GetSnapshot returns the fixture payload recorded at a commit.
func (s *Service) GetSnapshot(userID, hash string) ([]byte, SnapshotInfo, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(userID))
	if err != nil {
		return nil, SnapshotInfo{}, fmt.Errorf("open archive: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, SnapshotInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, SnapshotInfo{}, fmt.Errorf("read commit %s: %w", hash, err)
	}

	info := toSnapshotInfo(commitObj)
	payload, err := readFixtureFromCommit(commitObj, info.Kind)
	if err != nil {
		return nil, SnapshotInfo{}, err
	}
	return payload, info, nil
}

func (s *Service) repoPath(userID string) string {
	return filepath.Join(s.baseDir, userID)
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[userID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[userID] = lock
	return lock
}

// ensureRepo opens the user's repository, initializing it with a main branch
// on first use. Callers hold the user lock.
func (s *Service) ensureRepo(userID string) (*git.Repository, error) {
	path := s.repoPath(userID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func readFixtureFromCommit(commitObj *object.Commit, kind string) ([]byte, error) {
	file, err := commitObj.File(kind + ".json")
	if err != nil {
		return nil, fmt.Errorf("load %s.json from commit: %w", kind, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open fixture reader: %w", err)
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read fixture bytes: %w", err)
	}
	return payload, nil
}

func toSnapshotInfo(commitObj *object.Commit) SnapshotInfo {
	// The commit message records which kind this export was; a repo can
	// hold both mirror.json and update.json.
	kind := KindMirror
	if strings.HasPrefix(commitObj.Message, "Export "+KindUpdate) {
		kind = KindUpdate
	}
	return SnapshotInfo{
		Hash:      commitObj.Hash.String()[:7],
		Kind:      kind,
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
