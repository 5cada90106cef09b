/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
)

// multipartOverhead is the slack allowed on top of a file limit for the
// multipart envelope and other form fields.
const multipartOverhead = 1 << 20

var (
	uploadAudioType = regexp.MustCompile(`^audio/(mpeg|wav|ogg|x-m4a)$`)
	plainExt        = regexp.MustCompile(`^[a-z0-9]{1,16}$`)
)

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the upload size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_multipart", "request body must be multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required", `no file uploaded in the "file" field`)
		return
	}
	defer file.Close()

	if header.Size > a.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the upload size limit")
		return
	}
	if !uploadAudioType.MatchString(partMediaType(header.Header.Get("Content-Type"))) {
		writeError(w, http.StatusBadRequest, "not_audio", "only audio files are allowed")
		return
	}

	ctx := r.Context()
	path, err := a.uploads.WriteTempStream(ctx, file, fileExt(header.Filename))
	if err != nil {
		a.logger.Error().Err(err).Str("filename", header.Filename).Msg("failed to spool upload")
		writeError(w, http.StatusInternalServerError, "upload_store_failed", "could not store the upload")
		return
	}

	track, err := a.ingest.Ingest(ctx, path, header.Filename)
	if err != nil {
		a.uploads.Remove(path)
		a.logger.Warn().Err(err).Str("filename", header.Filename).Msg("upload rejected")
		a.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "File uploaded and added to queue",
		"filename": track.FileName,
		"track":    track,
	})
}

type youtubeRequest struct {
	URL string `json:"url"`
}

func (a *API) handleYouTube(w http.ResponseWriter, r *http.Request) {
	var req youtubeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", `request body must be JSON with a "url" field`)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url_required", "an http(s) video url is required")
		return
	}

	track, err := a.ingest.IngestYouTube(r.Context(), req.URL)
	if err != nil {
		a.logger.Warn().Err(err).Str("url", req.URL).Msg("youtube ingest failed")
		a.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "YouTube audio added to queue",
		"title":   track.Title,
		"track":   track,
	})
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.queue.Snapshot())
}

func (a *API) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"track": a.queue.Current()})
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	res, err := a.queue.Clear(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("queue clear failed")
		writeError(w, http.StatusInternalServerError, "clear_failed", "could not clear queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Queue cleared",
		"result":  res,
	})
}

func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxStreamBytes+multipartOverhead)
	if err := r.ParseMultipartForm(a.maxStreamBytes + multipartOverhead); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio_too_large", "audio chunk exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_multipart", "request body must be multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_required", "no audio data received")
		return
	}
	defer file.Close()

	// One byte past the limit is enough for the relay to reject it.
	data, err := io.ReadAll(io.LimitReader(file, a.maxStreamBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_multipart", "could not read the audio part")
		return
	}

	hint := strings.ToLower(strings.TrimSpace(r.FormValue("container")))
	if hint == "" {
		hint = fileExt(header.Filename)
	}

	if err := a.relay.Relay(r.Context(), data, hint); err != nil {
		a.logger.Warn().Err(err).Int("bytes", len(data)).Str("container", hint).Msg("voice relay failed")
		a.writeRelayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Audio streamed to broadcast",
	})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// partMediaType strips parameters from a part's Content-Type.
func partMediaType(raw string) string {
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mt
}

// fileExt returns the lowercase extension of name without the dot, or ""
// when it is not a plain alphanumeric extension.
func fileExt(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !plainExt.MatchString(ext) {
		return ""
	}
	return ext
}
