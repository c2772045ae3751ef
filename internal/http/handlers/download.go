package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"productshot/pkg/zip"
)

// maxDownloadBytes caps each fetched output image.
const maxDownloadBytes = 25 << 20

// DownloadOutputs streams the job's output images as a zip archive.
func (a *App) DownloadOutputs(w http.ResponseWriter, r *http.Request) {
	found, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"), a.currentUserID(r))
	if err != nil {
		a.respondError(w, err)
		return
	}

	images := found.OutputImages()
	if len(images) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "job has no output images")
		return
	}

	assets := make([]zip.Asset, 0, len(images))
	for i, url := range images {
		data, mime, err := a.fetchImage(r, url)
		if err != nil {
			a.Logger.Warn().Err(err).Str("job_id", found.ID).Str("url", url).Msg("skipping unreachable output image")
			continue
		}
		name := path.Base(url)
		if name == "" || name == "." || name == "/" {
			name = fmt.Sprintf("output-%d.jpg", i+1)
		}
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("%02d-%s", i+1, name),
			MIME:     mime,
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusBadGateway, "fetch_failed", "could not fetch any output image")
		return
	}

	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", found.ID).Msg("failed to build archive")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "job-"+found.ID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) fetchImage(r *http.Request, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}
