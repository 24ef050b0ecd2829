// Artifact resolution against GitLab CI job artifacts. run_id is the
// job ID; when artifact_path is also given this fetches the single file
// directly (client.Jobs.DownloadSingleArtifactsFile), avoiding the
// zip-scan hostadapter/github needs because Actions only ever hands back
// a whole archive. Falling back to the full archive when artifact_path
// is blank mirrors the GitHub adapter's first-match behavior.
package gitlab

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	gitlabsdk "github.com/xanzy/go-gitlab"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
)

const maxArtifactBytes = 25 * 1024 * 1024

func resolveArtifact(client *gitlabsdk.Client, projectID int) canonical.ArtifactResolver {
	return func(ctx context.Context, runID, headSHA, artifactPath string) (io.ReadCloser, int64, error) {
		if runID == "" {
			return nil, 0, fmt.Errorf("hostadapter/gitlab: resolve_artifact requires a run_id (job id)")
		}
		jobID, err := strconv.Atoi(runID)
		if err != nil {
			return nil, 0, fmt.Errorf("hostadapter/gitlab: invalid run_id %q: %w", runID, err)
		}

		if artifactPath != "" {
			reader, _, err := client.Jobs.DownloadSingleArtifactsFile(projectID, jobID, artifactPath, gitlabsdk.WithContext(ctx))
			if err != nil {
				return nil, 0, err
			}
			buf, err := io.ReadAll(io.LimitReader(reader, maxArtifactBytes+1))
			if err != nil {
				return nil, 0, err
			}
			if len(buf) > maxArtifactBytes {
				return nil, 0, fmt.Errorf("hostadapter/gitlab: artifact exceeds %d byte limit", maxArtifactBytes)
			}
			return io.NopCloser(bytes.NewReader(buf)), int64(len(buf)), nil
		}

		job, _, err := client.Jobs.GetJob(projectID, jobID, gitlabsdk.WithContext(ctx))
		if err != nil {
			return nil, 0, err
		}
		reader, _, err := client.Jobs.DownloadArtifactsFile(projectID, job.Ref, &gitlabsdk.DownloadArtifactsFileOptions{
			Job: gitlabsdk.String(job.Name),
		}, gitlabsdk.WithContext(ctx))
		if err != nil {
			return nil, 0, err
		}
		buf, err := io.ReadAll(io.LimitReader(reader, maxArtifactBytes+1))
		if err != nil {
			return nil, 0, err
		}
		if len(buf) > maxArtifactBytes {
			return nil, 0, fmt.Errorf("hostadapter/gitlab: artifact exceeds %d byte limit", maxArtifactBytes)
		}

		zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
		if err != nil {
			return nil, 0, fmt.Errorf("hostadapter/gitlab: artifact is not a valid zip: %w", err)
		}
		var best *zip.File
		for _, f := range zr.File {
			lower := strings.ToLower(f.Name)
			if strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".sarif") {
				best = f
				break
			}
		}
		if best == nil {
			return nil, 0, fmt.Errorf("hostadapter/gitlab: no json/sarif entry found in artifact zip")
		}
		rc, err := best.Open()
		if err != nil {
			return nil, 0, err
		}
		return rc, int64(best.UncompressedSize64), nil
	}
}
