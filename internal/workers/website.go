package workers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/clock"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/config"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/githost"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/objectstore"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/repos"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

// WebsiteWorker implements spec §4.5. Run is only called when Job.Status
// is RUNNING, Job.StatsExportStatus is terminal, and no table Export is
// still RUNNING.
type WebsiteWorker struct {
	Store   objectstore.Store
	Updates repos.WebsiteUpdateRepo
	Clock   clock.Clock
	Log     *logger.Logger
}

func (w *WebsiteWorker) Run(ctx context.Context, job *types.Job, cfg config.WebsiteConfig, completedTableExports []*types.Export) error {
	log := w.Log.With("job_id", job.ID, "stage", "website")
	now := w.Clock.Now()

	wu, err := w.Updates.GetOrCreate(ctx, nil, job.ID)
	if err != nil {
		return err
	}

	token, err := githost.MintInstallationToken(ctx, cfg.GitHub)
	if err != nil {
		return w.retry(ctx, job.ID, wu, "minting installation token: "+err.Error())
	}

	repo, err := githost.EnsureWorkingCopy(cfg.LocalRepoPath, cfg.GitHub.RepoURL, token, cfg.WorkBranch, cfg.MainBranch)
	if err != nil {
		return w.retry(ctx, job.ID, wu, "preparing working copy: "+err.Error())
	}

	for _, export := range completedTableExports {
		dest := filepath.Join(cfg.LocalRepoPath, cfg.RepoBaseAssetsPath, filepath.Base(export.Path))
		if err := w.downloadInto(ctx, export.Path, dest); err != nil {
			return w.retry(ctx, job.ID, wu, fmt.Sprintf("downloading %s: %s", export.Path, err.Error()))
		}
	}

	_, committed, err := githost.CommitAndPush(repo, cfg.WorkBranch, cfg.GitHub.RepoURL, token, job.ID, now)
	if err != nil {
		return w.retry(ctx, job.ID, wu, "committing and pushing: "+err.Error())
	}
	if !committed {
		log.Info("working tree clean, no website update required")
		return w.Updates.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
			"status": types.WebsiteUpdateCompleted,
		})
	}

	pr, err := githost.CreatePullRequest(ctx, token, cfg.GitHub.RepoURL, cfg.WorkBranch, cfg.MainBranch, job.ID)
	if err != nil {
		return w.retry(ctx, job.ID, wu, "opening pull request: "+err.Error())
	}

	prID := fmt.Sprintf("%d", pr.ID)
	return w.Updates.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"status":            types.WebsiteUpdateCompleted,
		"pull_request_id":   &prID,
		"pull_request_url":  &pr.URL,
	})
}

func (w *WebsiteWorker) downloadInto(ctx context.Context, srcKey, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	r, err := w.Store.Download(ctx, srcKey)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	return err
}

// retry leaves the WebsiteUpdate row PENDING with the error recorded,
// eligible for retry on a later orchestration tick (spec §4.5 step 6).
func (w *WebsiteWorker) retry(ctx context.Context, jobID string, wu *types.WebsiteUpdate, errMsg string) error {
	w.Log.Warn("website stage step failed, will retry", "job_id", jobID, "error", errMsg)
	return w.Updates.UpdateFields(ctx, nil, jobID, map[string]interface{}{
		"attempts":   wu.Attempts + 1,
		"last_error": &errMsg,
	})
}
