package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/agentoven/agentdock/internal/api/middleware"
	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/go-chi/chi/v5"
)

// Train queues an ingestion job. Accepts a JSON TrainRequest or a
// multipart form with agentId, source, text, url and files fields.
func (h *Handlers) Train(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload())

	var req models.TrainRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		parsed, err := h.parseTrainForm(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		req = parsed
	} else if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := h.Pipeline.Submit(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"jobId":  job.JobID,
		"status": job.Status,
	})
}

func (h *Handlers) parseTrainForm(r *http.Request) (models.TrainRequest, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return models.TrainRequest{}, fmt.Errorf("invalid multipart form: %w", err)
	}
	form := r.MultipartForm
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	req := models.TrainRequest{
		AgentID: value("agentId"),
		Source:  models.Source(value("source")),
		Text:    value("text"),
	}
	for _, key := range []string{"url", "urls"} {
		for _, u := range form.Value[key] {
			if u = strings.TrimSpace(u); u != "" {
				req.URLs = append(req.URLs, u)
			}
		}
	}
	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			return models.TrainRequest{}, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return models.TrainRequest{}, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		fileType := fh.Header.Get("Content-Type")
		if fileType == "" || fileType == "application/octet-stream" {
			fileType = fh.Filename
		}
		req.Files = append(req.Files, models.TrainFile{Name: fh.Filename, FileType: fileType, Data: data})
	}
	return req, nil
}

// TrainStatus reports a job's progress.
func (h *Handlers) TrainStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	job, err := h.Store.GetTrainJob(r.Context(), id)
	if err == nil && job.UserID != middleware.GetUserID(r.Context()) {
		err = &errs.NotFoundError{Entity: "train job", Key: id}
	}
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListTrainJobs(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ownedAgent(r, chi.URLParam(r, "agentId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	jobs, err := h.Store.ListTrainJobs(r.Context(), agent.ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []models.TrainJob{}
	}
	respondJSON(w, http.StatusOK, jobs)
}
