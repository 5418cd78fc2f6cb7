package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidFilename = errors.New("invalid filename")
	ErrNotDocument     = errors.New("only PDF files are allowed")
	ErrOutsideDir      = errors.New("access denied")
)

// ResolveDocumentPath maps a requested filename to a path inside dir. The filename is
// validated before the filesystem is touched: it must be a single path element ending in .pdf.
func ResolveDocumentPath(dir, filename string) (string, error) {
	if filename == "" ||
		strings.Contains(filename, "..") ||
		strings.ContainsAny(filename, `/\`) {
		return "", ErrInvalidFilename
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return "", ErrNotDocument
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.Abs(filepath.Join(root, filename))
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", ErrOutsideDir
	}
	return resolved, nil
}

// ServeDocument serves a downloaded document by file name.
func (s *Server) ServeDocument(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	path, err := ResolveDocumentPath(s.downloadsDir, filename)
	switch {
	case errors.Is(err, ErrInvalidFilename) || errors.Is(err, ErrNotDocument):
		s.tel.ReportWarning(report_server_document, fmt.Errorf("%q: %w", filename, err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrOutsideDir):
		s.tel.ReportWarning(report_server_document, fmt.Errorf("%q: %w", filename, err))
		writeError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		s.tel.ReportBroken(report_server_document, err)
		writeError(w, http.StatusInternalServerError, "failed to serve PDF")
		return
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "PDF not found")
		return
	}
	if err != nil {
		s.tel.ReportBroken(report_server_document, err)
		writeError(w, http.StatusInternalServerError, "failed to serve PDF")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "PDF not found")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, filename, info.ModTime(), file)
}
