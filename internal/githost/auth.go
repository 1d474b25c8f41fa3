// Package githost adapts go-git and go-github into the git-host adapter of
// spec §2 component 5: mint a short-lived installation token from a GitHub
// App identity, then clone/fetch/checkout/merge/commit/push and open a
// pull request against a website repository.
package githost

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v66/github"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/config"
)

// MintInstallationToken signs an RS256 App JWT and exchanges it for a
// short-lived installation access token scoped to the repository named in
// cfg.RepoURL (spec §4.5 step 1).
func MintInstallationToken(ctx context.Context, cfg config.GitHubAppConfig) (string, error) {
	appJWT, err := signAppJWT(cfg.AppID, cfg.PrivateKeyPath)
	if err != nil {
		return "", fmt.Errorf("signing app JWT: %w", err)
	}

	client := github.NewClient(nil).WithAuthToken(appJWT)

	owner, repo, err := ownerRepoFromURL(cfg.RepoURL)
	if err != nil {
		return "", err
	}

	installation, _, err := client.Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("finding installation for %s/%s: %w", owner, repo, err)
	}

	token, _, err := client.Apps.CreateInstallationToken(ctx, installation.GetID(), nil)
	if err != nil {
		return "", fmt.Errorf("creating installation token: %w", err)
	}
	return token.GetToken(), nil
}

func signAppJWT(appID, privateKeyPath string) (string, error) {
	keyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return "", fmt.Errorf("reading private key %s: %w", privateKeyPath, err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return "", fmt.Errorf("parsing RSA private key: %w", err)
	}

	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    appID,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return tok.SignedString(key)
}

func ownerRepoFromURL(repoURL string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	idx := strings.Index(trimmed, "github.com/")
	if idx < 0 {
		return "", "", fmt.Errorf("repo_url %q is not a github.com URL", repoURL)
	}
	full := trimmed[idx+len("github.com/"):]
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("repo_url %q does not contain owner/repo", repoURL)
	}
	return parts[0], parts[1], nil
}

// withToken embeds an x-access-token credential into an https:// repo URL
// for go-git basic-auth-free pushes, mirroring the installation-token
// authentication style GitHub Apps use over HTTPS.
func withToken(repoURL, token string) string {
	return strings.Replace(repoURL, "https://", "https://x-access-token:"+token+"@", 1)
}
