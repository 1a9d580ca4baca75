package internal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"lanchat/internal/storage"
)

const (
	multipartMemory   = 8 << 20
	multipartOverhead = 1 << 20
)

// HandleUpload stores the multipart "file" field as a new blob and answers
// with the names and paths a client echoes back in its file message. An
// optional "uploadId" field ties server-side failures to the upload session.
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds %s", humanize.IBytes(uint64(s.maxFileSize))))
			return
		}
		writeError(w, http.StatusBadRequest, errors.New("invalid multipart form"))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()
	uploadID := strings.TrimSpace(r.FormValue("uploadId"))

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("no file provided"))
		return
	}
	defer file.Close()

	if header.Size > s.maxFileSize {
		s.engine.FailUpload(ctx, "", uploadID, "file too large")
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds %s", humanize.IBytes(uint64(s.maxFileSize))))
		return
	}

	display := displayFilename(header.Filename)
	stored := fmt.Sprintf("%s-%s", uuid.NewString(), display)
	written, err := s.blobs.Put(ctx, stored, file, header.Size)
	if err != nil {
		s.logger.Error(ctx, "store upload failed", "file", display, "err", err)
		s.engine.FailUpload(ctx, "", uploadID, defaultUploadFailure)
		writeError(w, http.StatusInternalServerError, errors.New(defaultUploadFailure))
		return
	}
	s.engine.RecordFile(stored, display)
	s.metrics.AddUploadedBytes(written)
	s.logger.Info(ctx, "file uploaded", "file", display, "stored", stored, "size", humanize.IBytes(uint64(written)))

	writeJSON(w, http.StatusOK, FileUpload{
		FileName:       display,
		StoredFileName: stored,
		FilePath:       FilePath(stored),
		DownloadPath:   DownloadPath(stored),
		FileSize:       written,
	})
}

// HandleDownload streams a blob as an attachment under its display name.
func (s *Server) HandleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveBlob(w, r, "attachment")
}

// HandleFile serves a blob inline, used for image previews.
func (s *Server) HandleFile(w http.ResponseWriter, r *http.Request) {
	s.serveBlob(w, r, "inline")
}

func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request, disposition string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	stored := mux.Vars(r)["storedFileName"]
	if err := storage.ValidName(stored); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid file name"))
		return
	}

	blob, info, err := s.blobs.Open(r.Context(), stored)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			writeError(w, http.StatusNotFound, errors.New("file not found"))
			return
		}
		s.logger.Error(r.Context(), "open blob failed", "file", stored, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("could not read file"))
		return
	}
	defer blob.Close()

	display := s.engine.DisplayName(stored)
	w.Header().Set("Content-Disposition", contentDisposition(disposition, display))
	if disposition == "attachment" {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, display, info.ModTime, blob)
}

// contentDisposition renders an RFC 6266 header with an ASCII fallback name
// and the exact UTF-8 name in filename*.
func contentDisposition(disposition, name string) string {
	return fmt.Sprintf(`%s; filename="%s"; filename*=UTF-8''%s`, disposition, asciiFallback(name), encodeRFC5987(name))
}

func asciiFallback(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('_')
		case r < 0x20 || r > 0x7e:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func encodeRFC5987(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}
