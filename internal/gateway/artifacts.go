package gateway

import (
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
)

// handleDownloadArtifact streams one workspace file as an attachment.
func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	rel, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || rel == "" {
		writeError(w, r, newHTTPError(http.StatusBadRequest, CodeMissingPath, "Artifact path is required"))
		return
	}
	full, err := s.opts.Tasks.ResolveArtifact(r.Context(), chi.URLParam(r, "id"), rel)
	if err != nil {
		writeError(w, r, err)
		return
	}

	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, r, newHTTPError(http.StatusNotFound, CodeNotFound, "Artifact not found"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !info.Mode().IsRegular() {
		writeError(w, r, newHTTPError(http.StatusBadRequest, CodeNotFile, "Artifact path is not a file"))
		return
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", mt.String())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(rel)}))
	http.ServeContent(w, r, "", info.ModTime(), f)
}
