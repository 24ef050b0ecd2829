// Artifact download: Actions publishes workflow-run artifacts as a single
// ZIP regardless of what they contain, so resolveArtifact's closure in
// context.go downloads the ZIP and this file picks out the first
// .json/.sarif entry inside it.
package github

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxArtifactBytes bounds how much of a ZIP this adapter will buffer in
// memory before giving up; artifact gates only ever need a single small
// report file out of it.
const maxArtifactBytes = 25 * 1024 * 1024

func fetchArtifactZIP(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("hostadapter/github: artifact download returned status %d", resp.StatusCode)
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return nil, 0, err
	}
	if len(buf) > maxArtifactBytes {
		return nil, 0, fmt.Errorf("hostadapter/github: artifact exceeds %d byte limit", maxArtifactBytes)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, 0, fmt.Errorf("hostadapter/github: artifact is not a valid zip: %w", err)
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
		return nil, 0, fmt.Errorf("hostadapter/github: no json/sarif entry found in artifact zip")
	}

	rc, err := best.Open()
	if err != nil {
		return nil, 0, err
	}
	return rc, int64(best.UncompressedSize64), nil
}
