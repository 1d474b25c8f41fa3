package githost

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
)

type PullRequest struct {
	ID     int64
	Number int
	URL    string
}

// CreatePullRequest opens a pull request from workBranch onto mainBranch
// (spec §4.5 step 5). "A pull request already exists" is treated as
// success: the website worker is idempotent across retries.
func CreatePullRequest(ctx context.Context, token, repoURL, workBranch, mainBranch, jobID string) (*PullRequest, error) {
	owner, repo, err := ownerRepoFromURL(repoURL)
	if err != nil {
		return nil, err
	}
	client := github.NewClient(nil).WithAuthToken(token)

	title := fmt.Sprintf("Automated stats update %s", time.Now().UTC().Format("2006-01-02 15:04"))
	body := fmt.Sprintf("Automated update (replacement) of stats files from GCS. Job ID: %s", jobID)

	pr, _, err := client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: &title,
		Body:  &body,
		Head:  &workBranch,
		Base:  &mainBranch,
	})
	if err != nil {
		if strings.Contains(err.Error(), "A pull request already exists") {
			existing, listErr := findExistingPullRequest(ctx, client, owner, repo, workBranch, mainBranch)
			if listErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("creating pull request: %w", err)
	}

	return &PullRequest{ID: pr.GetID(), Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

func findExistingPullRequest(ctx context.Context, client *github.Client, owner, repo, head, base string) (*PullRequest, error) {
	prs, _, err := client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		Head: owner + ":" + head,
		Base: base,
		State: "open",
	})
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	pr := prs[0]
	return &PullRequest{ID: pr.GetID(), Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}
