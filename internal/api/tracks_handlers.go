package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"soundflow/internal/storage"
)

const (
	// maxTrackBytes is the upload size ceiling for a single audio file.
	maxTrackBytes = 6_000_000
	// maxUploadParts bounds the multipart payload: one file part plus one
	// name field.
	maxUploadParts = 2

	trackFileField = "track"
	trackNameField = "name"
)

type uploadTrackResponse struct {
	Message string `json:"message"`
	TrackID string `json:"trackID"`
}

type trackResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
	URL       string `json:"url"`
}

// UploadTrack accepts a multipart payload carrying one audio file and a name
// field, buffers the file, and streams it into the chunk store under a fresh
// track ID.
func (h *Handler) UploadTrack(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !h.requireAppSecret(w, r) {
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid multipart payload"))
		return
	}

	var (
		payload     []byte
		contentType string
		name        string
		haveFile    bool
		parts       int
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart data: %w", err))
			return
		}
		parts++
		if parts > maxUploadParts {
			_ = part.Close()
			writeError(w, http.StatusBadRequest, errors.New("too many multipart parts"))
			return
		}
		switch part.FormName() {
		case trackFileField:
			if haveFile {
				_ = part.Close()
				writeError(w, http.StatusBadRequest, errors.New("only one track file is allowed"))
				return
			}
			data, readErr := io.ReadAll(io.LimitReader(part, maxTrackBytes+1))
			_ = part.Close()
			if readErr != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("read track file: %w", readErr))
				return
			}
			if len(data) > maxTrackBytes {
				writeError(w, http.StatusBadRequest, errors.New("track file exceeds size limit"))
				return
			}
			payload = data
			contentType = part.Header.Get("Content-Type")
			haveFile = true
		case trackNameField:
			value, readErr := io.ReadAll(part)
			_ = part.Close()
			if readErr != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("read name field: %w", readErr))
				return
			}
			name = normalizeField(string(value))
		default:
			_ = part.Close()
			writeError(w, http.StatusBadRequest, fmt.Errorf("unexpected field %q", part.FormName()))
			return
		}
	}

	if !haveFile {
		writeError(w, http.StatusBadRequest, errors.New("track file is required"))
		return
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name field is required"))
		return
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	track, err := h.Store.CreateTrack(r.Context(), name, contentType, bytes.NewReader(payload))
	if err != nil {
		h.Logger.Error("track upload failed", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.recorder().ObserveTrackUpload(track.SizeBytes)
	h.Logger.Info("track stored", "track_id", track.ID, "name", track.Name, "size_bytes", track.SizeBytes)
	writeJSON(w, http.StatusCreated, uploadTrackResponse{Message: "Track uploaded", TrackID: track.ID})
}

// StreamTrack validates the identifier, then forwards stored chunks to the
// client as they arrive from the store.
func (h *Handler) StreamTrack(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if !h.requireAppSecret(w, r) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/track/")
	if err := storage.ValidateTrackID(id); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	track, stream, err := h.Store.OpenTrack(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTrackID) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if errors.Is(err, storage.ErrTrackNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		h.Logger.Error("open track failed", "track_id", id, "error", err)
		writeError(w, http.StatusNotFound, storage.ErrTrackNotFound)
		return
	}
	defer stream.Close()

	h.recorder().DownloadStarted()
	defer h.recorder().DownloadFinished()

	contentType := track.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	if track.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(track.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			// Headers are already out; the truncated body is the only
			// signal left for the client.
			h.Logger.Error("track stream interrupted", "track_id", id, "error", readErr)
			return
		}
	}
}

// Tracks lists stored track metadata with per-request retrieval URLs.
func (h *Handler) Tracks(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if !h.requireAppSecret(w, r) {
		return
	}

	tracks, err := h.Store.ListTracks(r.Context())
	if err != nil {
		h.Logger.Error("list tracks failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	response := make([]trackResponse, 0, len(tracks))
	for _, track := range tracks {
		response = append(response, trackResponse{
			ID:        track.ID,
			Name:      track.Name,
			SizeBytes: track.SizeBytes,
			URL:       h.trackURL(r, track.ID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tracks": response})
}

func (h *Handler) trackURL(r *http.Request, trackID string) string {
	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}
	if host == "" {
		host = "localhost"
	}
	u := url.URL{
		Scheme: requestScheme(r),
		Host:   host,
		Path:   "/track/" + trackID,
	}
	return u.String()
}

func requestScheme(r *http.Request) string {
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		parts := strings.Split(proto, ",")
		return strings.TrimSpace(parts[0])
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
