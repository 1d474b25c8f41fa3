package githost

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

// EnsureWorkingCopy clones repoURL into localRepoPath if absent, else
// fetches; checks out (creating if needed) the work branch, then merges
// the main branch in to avoid divergence (spec §4.5 step 2).
func EnsureWorkingCopy(localRepoPath, repoURL, token, workBranch, mainBranch string) (*git.Repository, error) {
	authedURL := withToken(repoURL, token)

	if _, err := os.Stat(filepath.Join(localRepoPath, ".git")); os.IsNotExist(err) {
		repo, err := git.PlainClone(localRepoPath, false, &git.CloneOptions{
			URL: authedURL,
		})
		if err != nil {
			return nil, fmt.Errorf("cloning %s: %w", repoURL, err)
		}
		if err := checkoutOrCreateBranch(repo, workBranch, mainBranch); err != nil {
			return nil, err
		}
		if err := mergeBranch(repo, workBranch, mainBranch); err != nil {
			return nil, err
		}
		return repo, nil
	}

	repo, err := git.PlainOpen(localRepoPath)
	if err != nil {
		return nil, fmt.Errorf("opening local repo %s: %w", localRepoPath, err)
	}
	if err := repo.Fetch(&git.FetchOptions{RemoteName: "origin", Force: true}); err != nil && err != git.NoErrAlreadyUpToDate {
		return nil, fmt.Errorf("fetching origin: %w", err)
	}
	if err := checkoutOrCreateBranch(repo, workBranch, mainBranch); err != nil {
		return nil, err
	}
	if err := pullBranch(repo, workBranch, authedURL); err != nil {
		return nil, err
	}
	if err := mergeBranch(repo, workBranch, mainBranch); err != nil {
		return nil, err
	}
	return repo, nil
}

func checkoutOrCreateBranch(repo *git.Repository, workBranch, mainBranch string) error {
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	branchRef := plumbing.NewBranchReferenceName(workBranch)
	err = wt.Checkout(&git.CheckoutOptions{Branch: branchRef})
	if err == nil {
		return nil
	}
	mainRef := plumbing.NewRemoteReferenceName("origin", mainBranch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: mainRef}); err != nil {
		return fmt.Errorf("checking out origin/%s: %w", mainBranch, err)
	}
	return wt.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true})
}

func pullBranch(repo *git.Repository, branch, authedURL string) error {
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	err = wt.Pull(&git.PullOptions{RemoteName: "origin", ReferenceName: plumbing.NewBranchReferenceName(branch)})
	if err != nil && err != git.NoErrAlreadyUpToDate && err != git.ErrNonFastForwardUpdate {
		return fmt.Errorf("pulling %s: %w", branch, err)
	}
	return nil
}

// mergeBranch fast-forwards workBranch to origin/mainBranch's tip. The
// work branch only ever carries the one commit CommitAndPush adds each
// run, so it's always an ancestor of main; moving its ref directly (then
// re-checking it out, rather than checking out the mainline hash and
// leaving HEAD detached) is what keeps it merged without diverging, and
// keeps HEAD attached to workBranch for the commit that follows.
func mergeBranch(repo *git.Repository, workBranch, mainBranch string) error {
	mainRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", mainBranch), true)
	if err != nil {
		return fmt.Errorf("resolving origin/%s: %w", mainBranch, err)
	}

	branchRefName := plumbing.NewBranchReferenceName(workBranch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRefName, mainRef.Hash())); err != nil {
		return fmt.Errorf("fast-forwarding %s to origin/%s: %w", workBranch, mainBranch, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: branchRefName, Force: true}); err != nil {
		return fmt.Errorf("checking out %s after fast-forward: %w", workBranch, err)
	}
	return nil
}

// CommitAndPush stages all changes, commits with the contract message from
// spec §6 (embedding jobID), and pushes the work branch. Returns ok=false
// if the working tree was clean (nothing to commit), per spec §4.5 step 4.
func CommitAndPush(repo *git.Repository, workBranch, repoURL, token, jobID string, now time.Time) (commitHash string, ok bool, err error) {
	wt, err := repo.Worktree()
	if err != nil {
		return "", false, fmt.Errorf("getting worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", false, fmt.Errorf("staging changes: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return "", false, fmt.Errorf("getting status: %w", err)
	}
	if status.IsClean() {
		return "", false, nil
	}

	msg := fmt.Sprintf("Update stats files from GCS (%s)\n\nJob ID: %s", now.UTC().Format("2006-01-02 15:04"), jobID)
	commit, err := wt.Commit(msg, &git.CommitOptions{})
	if err != nil {
		return "", false, fmt.Errorf("committing: %w", err)
	}

	authedURL := withToken(repoURL, token)
	err = repo.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs: []config.RefSpec{
			config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", workBranch, workBranch)),
		},
		RemoteURL: authedURL,
	})
	if err != nil {
		return "", false, fmt.Errorf("pushing %s: %w", workBranch, err)
	}
	return commit.String(), true, nil
}
