package web

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"formatforge-go/internal/archive"
	"formatforge-go/internal/batch"
	"formatforge-go/internal/compositor"
	"formatforge-go/internal/config"
	"formatforge-go/internal/format"
	"formatforge-go/internal/icopack"
	"formatforge-go/internal/logger"
	"formatforge-go/internal/output"

	"github.com/gorilla/mux"
)

// FormatInfo describes one supported format.
type FormatInfo struct {
	Name              string `json:"name"`
	Extension         string `json:"extension"`
	MimeType          string `json:"mime_type"`
	SupportsAlpha     bool   `json:"supports_alpha"`
	SupportsAnimation bool   `json:"supports_animation"`
}

// RecordView is a batch record as returned by the API.
type RecordView struct {
	batch.Record
	DownloadURL string `json:"download_url,omitempty"`
}

// JobView is a job as returned by the API.
type JobView struct {
	ID         string       `json:"id"`
	CreatedAt  time.Time    `json:"created_at"`
	Target     string       `json:"target"`
	Converted  int          `json:"converted"`
	Skipped    int          `json:"skipped"`
	Errored    int          `json:"errored"`
	DurationMS int64        `json:"duration_ms"`
	Records    []RecordView `json:"records"`
	ArchiveURL string       `json:"archive_url,omitempty"`
}

func jobView(j *Job) JobView {
	v := JobView{
		ID:         j.ID,
		CreatedAt:  j.CreatedAt,
		Target:     j.Target.String(),
		Converted:  len(j.Outcome.Converted()),
		Skipped:    len(j.Outcome.Skipped()),
		Errored:    len(j.Outcome.Errored()),
		DurationMS: j.Outcome.Duration.Milliseconds(),
		Records:    make([]RecordView, 0, len(j.Outcome.Records)),
	}
	for _, rec := range j.Outcome.Records {
		rv := RecordView{Record: rec}
		if name, ok := j.downloadName[rec.Index]; ok {
			rv.DownloadURL = fmt.Sprintf("/api/jobs/%s/files/%s", j.ID, url.PathEscape(name))
		}
		v.Records = append(v.Records, rv)
	}
	if v.Converted > 0 {
		v.ArchiveURL = fmt.Sprintf("/api/jobs/%s/archive", j.ID)
	}
	return v
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":        s.running.Load() > 0,
			"active_batches": s.running.Load(),
			"jobs":           s.jobs.Len(),
			"ws_clients":     s.clientCount(),
			"uptime":         time.Since(s.started).Round(time.Second).String(),
		},
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	formats := make([]FormatInfo, 0, len(format.All()))
	for _, f := range format.All() {
		formats = append(formats, FormatInfo{
			Name:              f.String(),
			Extension:         f.Extension(),
			MimeType:          f.MimeType(),
			SupportsAlpha:     f.SupportsAlpha(),
			SupportsAnimation: f.SupportsAnimation(),
		})
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"formats":     formats,
			"ico_presets": icopack.Presets(),
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":    s.stats.GetSummary(),
			"statistics": s.stats.Snapshot(),
		},
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.writeError(w, fmt.Sprintf("Upload exceeds %d MB", s.cfg.Server.MaxUploadMB), http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	opts, err := parseOptions(s.cfg, r)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	inputs, err := readUploads(r.MultipartForm.File["files"])
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(inputs) == 0 {
		s.writeError(w, "No files uploaded", http.StatusBadRequest)
		return
	}

	s.running.Add(1)
	defer s.running.Add(-1)

	s.broadcastWSMessage("convert_started", map[string]interface{}{
		"files":  len(inputs),
		"target": opts.Target.String(),
	})

	driver := s.driver.With(batch.WithProgress(func(p batch.Progress) {
		s.broadcastWSMessage("convert_progress", p)
	}))
	out := driver.Run(r.Context(), inputs, opts)

	job := newJob(opts.Target, out)
	s.jobs.Add(job)

	logger.WithJob(s.log, job.ID).WithFields(map[string]interface{}{
		"files":     len(inputs),
		"converted": len(out.Converted()),
		"skipped":   len(out.Skipped()),
		"errored":   len(out.Errored()),
	}).Info("Conversion job finished")

	view := jobView(job)
	s.broadcastWSMessage("convert_completed", map[string]interface{}{
		"job_id":    job.ID,
		"converted": view.Converted,
		"skipped":   view.Skipped,
		"errored":   view.Errored,
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("Converted %d file(s)", view.Converted),
		Data:    view,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "Job not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: jobView(job)})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if !s.jobs.Delete(mux.Vars(r)["id"]) {
		s.writeError(w, "Job not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Job deleted"})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	job, ok := s.jobs.Get(vars["id"])
	if !ok {
		s.writeError(w, "Job not found", http.StatusNotFound)
		return
	}
	res, ok := job.File(vars["name"])
	if !ok {
		s.writeError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", res.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", vars["name"]))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	_, _ = w.Write(res.Data)
}

func (s *Server) handleDownloadArchive(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "Job not found", http.StatusNotFound)
		return
	}

	data, err := archive.Build(job.ArchiveFiles())
	if err != nil {
		if errors.Is(err, archive.ErrEmpty) {
			s.writeError(w, "Job has no converted files", http.StatusNotFound)
			return
		}
		s.writeError(w, fmt.Sprintf("Failed to build archive: %v", err), http.StatusInternalServerError)
		return
	}
	s.stats.IncrementArchivesCreated()

	name := s.cfg.Output.ArchiveName
	if name == "" {
		name = archive.DefaultName
	}
	w.Header().Set("Content-Type", archive.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// handleSaveJob writes a job's converted files into the configured output
// directory on the server. With archive=true a single ZIP is written instead.
// Writer messages (renames, skips, failures) are relayed as output_log.
func (s *Server) handleSaveJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "Job not found", http.StatusNotFound)
		return
	}
	if len(job.Outcome.Converted()) == 0 {
		s.writeError(w, "Job has no converted files", http.StatusNotFound)
		return
	}

	asArchive := false
	if v := r.URL.Query().Get("archive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, fmt.Sprintf("invalid archive: %s", v), http.StatusBadRequest)
			return
		}
		asArchive = b
	}

	writer := output.NewWriter(s.cfg.OutputOptions(), logger.WithJob(s.log, job.ID), s.stats, func(level, message string) {
		s.broadcastWSMessage("output_log", map[string]interface{}{
			"job_id":  job.ID,
			"level":   level,
			"message": message,
		})
	})

	var (
		written []output.Written
		err     error
	)
	if asArchive {
		var wr *output.Written
		if wr, err = writer.WriteArchive(job.Outcome, s.cfg.Output.ArchiveName); wr != nil {
			written = append(written, *wr)
		}
	} else {
		written, err = writer.WriteOutcome(job.Outcome)
	}

	data := map[string]interface{}{
		"job_id":    job.ID,
		"directory": s.cfg.Output.Directory,
		"written":   written,
	}
	if err != nil {
		data["error"] = err.Error()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		s.writeJSON(w, APIResponse{Success: false, Error: "Some files could not be written", Data: data})
		return
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("Saved %d file(s)", len(written)),
		Data:    data,
	})
}

// parseOptions starts from the configured batch options and applies the
// form overrides of one request.
func parseOptions(cfg *config.Config, r *http.Request) (batch.Options, error) {
	opts := cfg.BatchOptions()

	if v := strings.TrimSpace(r.FormValue("target")); v != "" {
		f, err := format.Normalize(v)
		if err != nil {
			return opts, fmt.Errorf("invalid target format: %s", v)
		}
		opts.Target = f
	}

	if v := strings.TrimSpace(r.FormValue("declared")); v != "" {
		if strings.EqualFold(v, config.AnyFormat) {
			opts.Declared = format.Unknown
		} else {
			f, err := format.Normalize(v)
			if err != nil {
				return opts, fmt.Errorf("invalid declared format: %s", v)
			}
			opts.Declared = f
		}
	}

	for field, dst := range map[string]*bool{
		"force":              &opts.Force,
		"preserve_animation": &opts.PreserveAnimation,
	} {
		if v := r.FormValue(field); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return opts, fmt.Errorf("invalid %s: %s", field, v)
			}
			*dst = b
		}
	}

	if v := r.FormValue("background"); v != "" {
		bg, err := compositor.ParseHex(v)
		if err != nil {
			return opts, fmt.Errorf("invalid background colour: %s", v)
		}
		opts.Background = bg
	}

	if preset := r.FormValue("ico_preset"); preset != "" || r.FormValue("ico_sizes") != "" {
		if preset == "" {
			preset = icopack.CustomPreset
		}
		sizes, err := icopack.Resolve(preset, r.FormValue("ico_sizes"))
		if err != nil {
			return opts, err
		}
		opts.IconSizes = sizes
	}

	return opts, nil
}

func readUploads(headers []*multipart.FileHeader) ([]batch.Input, error) {
	inputs := make([]batch.Input, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
		}
		inputs = append(inputs, batch.Input{Filename: fh.Filename, Data: data})
	}
	return inputs, nil
}
