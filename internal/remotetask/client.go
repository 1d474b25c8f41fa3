// Package remotetask's client.go is the production Adapter: a thin,
// OAuth2-credentialed REST client over the external geospatial compute
// service. The wire contract below (paths, JSON shapes) is this client's
// own concern, not a spec-mandated protocol (spec §2: "not itself
// specified beyond the interface").
package remotetask

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/config"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/orcherrors"
)

var computeScopes = []string{
	"https://www.googleapis.com/auth/earthengine",
	"https://www.googleapis.com/auth/cloud-platform",
}

type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient mints an OAuth2 client credentialed from the service-account
// document at credentialsFile (spec §2 row 3) bound to baseURL.
func NewClient(ctx context.Context, credentialsFile, baseURL string) (*Client, error) {
	keyData, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading compute service credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, keyData, computeScopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing compute service credentials: %w", err)
	}
	httpClient := oauth2.NewClient(ctx, creds.TokenSource)
	httpClient.Timeout = 30 * time.Second
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}, nil
}

type planRequest struct {
	AOIAssetPath          string   `json:"aoi_asset_path"`
	DEMAssetPath          string   `json:"dem_asset_path"`
	MonthlyCollectionPath string   `json:"monthly_collection_path"`
	MonthlyImagePrefix    string   `json:"monthly_image_prefix"`
	MonthsList            []string `json:"months_list,omitempty"`
	MinMonth              string   `json:"min_month,omitempty"`
	Now                   string   `json:"now"`
}

type planResponse struct {
	Months []string `json:"months"`
}

func (c *Client) PlanImageExports(ctx context.Context, cfg config.ImageExportConfig, now time.Time) ([]ImageExportCandidate, error) {
	var resp planResponse
	err := c.postJSON(ctx, "/v1/image-exports/plan", planRequest{
		AOIAssetPath:          cfg.AOIAssetPath,
		DEMAssetPath:          cfg.DEMAssetPath,
		MonthlyCollectionPath: cfg.MonthlyCollectionPath,
		MonthlyImagePrefix:    cfg.MonthlyImagePrefix,
		MonthsList:            cfg.MonthsList,
		MinMonth:              cfg.MinMonth,
		Now:                   now.UTC().Format("2006-01-02"),
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]ImageExportCandidate, 0, len(resp.Months))
	for _, m := range resp.Months {
		out = append(out, ImageExportCandidate{MonthName: m})
	}
	return out, nil
}

type submitRequest struct {
	Name   string `json:"name"`
	Target string `json:"target"`
	Path   string `json:"path"`
}

type submitResponse struct {
	TaskID   string `json:"task_id"`
	RawState string `json:"state"`
}

func (c *Client) SubmitTask(ctx context.Context, descriptor RemoteTaskDescriptor) (string, string, error) {
	var resp submitResponse
	err := c.postJSON(ctx, "/v1/tasks", submitRequest{
		Name:   descriptor.Name,
		Target: descriptor.Target,
		Path:   descriptor.Path,
	}, &resp)
	if err != nil {
		return "", "", err
	}
	return resp.TaskID, resp.RawState, nil
}

type statusResponse struct {
	RawState string `json:"state"`
	Error    string `json:"error"`
}

func (c *Client) QueryTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	var resp statusResponse
	if err := c.getJSON(ctx, "/v1/tasks/"+taskID, &resp); err != nil {
		return TaskStatus{}, err
	}
	return TaskStatus{RawState: resp.RawState, Error: resp.Error}, nil
}

type collectionImagesResponse struct {
	Images []string `json:"images"`
}

func (c *Client) CollectionImages(ctx context.Context, collectionPath string) ([]string, error) {
	var resp collectionImagesResponse
	if err := c.getJSON(ctx, "/v1/collections/"+collectionPath+"/images", &resp); err != nil {
		return nil, err
	}
	return resp.Images, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return orcherrors.DataInvariant("encoding compute service request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return orcherrors.TransientRemote("building compute service request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return orcherrors.TransientRemote("building compute service request", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return orcherrors.TransientRemote("calling compute service", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return orcherrors.TransientRemote(fmt.Sprintf("compute service returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return orcherrors.PermanentRemote(fmt.Sprintf("compute service returned %d", resp.StatusCode), nil)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
