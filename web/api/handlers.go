package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
	"github.com/ttm-labs/ttm-orchestrator/internal/results"
)

// ExperimentResponse is the API response for one tracked run
type ExperimentResponse struct {
	ID               string              `json:"id"`
	Status           string              `json:"status"`
	StartTime        string              `json:"start_time"`
	Elapsed          float64             `json:"elapsed"`
	ProcessPID       *int                `json:"process_pid"`
	Template         string              `json:"template"`
	Mode             string              `json:"mode"`
	ResultFolder     string              `json:"result_folder"`
	ProcessInfo      *domain.ProcessInfo `json:"process_info,omitempty"`
	ResultFilesCount int                 `json:"result_files_count"`
	FilesMoved       []string            `json:"files_moved,omitempty"`
	ReturnCode       *int                `json:"return_code"`
	Error            string              `json:"error,omitempty"`
}

// OutputResponse carries the captured engine streams for one run
type OutputResponse struct {
	ID     string `json:"id"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Total       int `json:"total"`
	Running     int `json:"running"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Stopped     int `json:"stopped"`
	SharedFiles int `json:"shared_result_files"`
}

// StartRequest is the POST body for launching a run
type StartRequest struct {
	Template string `json:"template"`
	Mode     string `json:"mode"`
}

func recordToResponse(id domain.ExperimentID, r *domain.ExperimentRecord) ExperimentResponse {
	return ExperimentResponse{
		ID:               id.String(),
		Status:           string(r.Status),
		StartTime:        r.StartTime.Format(time.RFC3339),
		Elapsed:          r.ElapsedSeconds,
		ProcessPID:       r.ProcessPID,
		Template:         r.Template,
		Mode:             string(r.Mode),
		ResultFolder:     r.ResultFolder,
		ProcessInfo:      r.ProcessInfo,
		ResultFilesCount: r.ResultFilesCount,
		FilesMoved:       r.FilesMoved,
		ReturnCode:       r.ReturnCode,
		Error:            r.Error,
	}
}

// RunEvent builds the SSE event for a run state change. Callers outside the
// package use it to push tracker updates through the hub.
func RunEvent(id domain.ExperimentID, rec *domain.ExperimentRecord) SSEEvent {
	return SSEEvent{Type: "experiment_update", Data: recordToResponse(id, rec)}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		records := s.tracker.Store().All()

		var status StatusResponse
		status.Total = len(records)
		for _, rec := range records {
			switch rec.Status {
			case domain.StatusStarting, domain.StatusRunning:
				status.Running++
			case domain.StatusCompleted:
				status.Completed++
			case domain.StatusFailed, domain.StatusError:
				status.Failed++
			case domain.StatusStopped:
				status.Stopped++
			}
		}
		status.SharedFiles = s.results.CountShared()

		writeJSON(w, status)
	}
}

func (s *Server) experimentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			records := s.tracker.Store().All()
			resp := make([]ExperimentResponse, 0, len(records))
			for id, rec := range records {
				resp = append(resp, recordToResponse(id, rec))
			}
			sort.Slice(resp, func(i, j int) bool {
				return resp[i].StartTime > resp[j].StartTime
			})
			writeJSON(w, resp)

		case http.MethodPost:
			var req StartRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if req.Template == "" {
				writeError(w, http.StatusBadRequest, "template is required")
				return
			}

			mode, err := domain.ParseMode(req.Mode)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}

			path, err := s.templates.Resolve(req.Template)
			if err != nil {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}

			id, err := s.tracker.Start(path, mode)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}

			if rec := s.tracker.Store().Get(id); rec != nil {
				s.Broadcast(SSEEvent{Type: "experiment_update", Data: recordToResponse(id, rec)})
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": id.String()})

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) experimentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Paths: /api/experiments/{id}[/stop|/output|/stream]
		path := strings.TrimPrefix(r.URL.Path, "/api/experiments/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "experiment ID required")
			return
		}

		action := ""
		if idx := strings.LastIndex(path, "/"); idx > 0 {
			switch path[idx+1:] {
			case "stop", "output", "stream":
				action = path[idx+1:]
				path = path[:idx]
			}
		}
		id := domain.ExperimentID(path)

		switch action {
		case "stop":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			if s.tracker.Store().Get(id) == nil {
				writeError(w, http.StatusNotFound, "experiment not found")
				return
			}
			stopped := s.tracker.Stop(id)
			if rec := s.tracker.Store().Get(id); rec != nil {
				s.Broadcast(SSEEvent{Type: "experiment_update", Data: recordToResponse(id, rec)})
			}
			writeJSON(w, map[string]bool{"stopped": stopped})

		case "output":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			rec := s.tracker.Store().Get(id)
			if rec == nil {
				writeError(w, http.StatusNotFound, "experiment not found")
				return
			}
			writeJSON(w, OutputResponse{ID: id.String(), Stdout: rec.Stdout, Stderr: rec.Stderr})

		case "stream":
			s.streamExperiment(w, r, id)

		default:
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			rec := s.tracker.Store().Get(id)
			if rec == nil {
				writeError(w, http.StatusNotFound, "experiment not found")
				return
			}
			writeJSON(w, recordToResponse(id, rec))
		}
	}
}

func (s *Server) templatesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			list, err := s.templates.List()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, list)

		case http.MethodPost:
			file, header, err := r.FormFile("template")
			if err != nil {
				writeError(w, http.StatusBadRequest, "template file required")
				return
			}
			defer file.Close()

			path, err := s.templates.Save(header.Filename, file)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"name": header.Filename, "path": path})

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) templateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Paths: /api/templates/{name}[/preview]
		name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
		if name == "" {
			writeError(w, http.StatusBadRequest, "template name required")
			return
		}

		if strings.HasSuffix(name, "/preview") {
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			name = strings.TrimSuffix(name, "/preview")

			maxRows := 0
			if v := r.URL.Query().Get("rows"); v != "" {
				maxRows, _ = strconv.Atoi(v)
			}
			preview, err := s.templates.PreviewTemplate(name, maxRows)
			if err != nil {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeJSON(w, preview)
			return
		}

		switch r.Method {
		case http.MethodGet:
			path, err := s.templates.Resolve(name)
			if err != nil {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
			http.ServeFile(w, r, path)

		case http.MethodDelete:
			if err := s.templates.Delete(name); err != nil {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeJSON(w, map[string]string{"status": "deleted"})

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) listResultsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		experiments, err := s.results.ListExperiments()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if experiments == nil {
			experiments = []results.Experiment{}
		}
		writeJSON(w, experiments)
	}
}

func (s *Server) resultFolderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		folder := strings.TrimPrefix(r.URL.Path, "/api/results/")
		if folder == "" || strings.Contains(folder, "/") {
			writeError(w, http.StatusBadRequest, "result folder required")
			return
		}

		switch r.Method {
		case http.MethodGet:
			files, err := s.results.Files(folder)
			if err != nil {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeJSON(w, files)

		case http.MethodDelete:
			if err := s.results.Delete(folder); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, map[string]string{"status": "deleted"})

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.history == nil {
			writeError(w, http.StatusServiceUnavailable, "history store not available")
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, _ = strconv.Atoi(v)
		}

		runs, err := s.history.List(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, runs)
	}
}
