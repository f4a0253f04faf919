package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/metasync/internal/jobs"
	"github.com/ajitpratap0/metasync/internal/pipeline"
	jsonpool "github.com/ajitpratap0/metasync/pkg/json"
	"github.com/ajitpratap0/metasync/pkg/logger"
	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
	"github.com/ajitpratap0/metasync/pkg/warehouse"
)

const maxBodyBytes = 1 << 20

// accountList accepts either a single id or a list of ids.
type accountList []string

func (a *accountList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := jsonpool.Unmarshal(data, &id); err != nil {
			return err
		}
		*a = splitAccounts(id)
		return nil
	}
	var ids []string
	if err := jsonpool.Unmarshal(data, &ids); err != nil {
		return err
	}
	*a = ids
	return nil
}

// splitAccounts allows a comma-separated string of ids.
func splitAccounts(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// jobRequest is the body of every job endpoint.
type jobRequest struct {
	AdAccountIDs accountList         `json:"ad_account_ids"`
	MetaToken    string              `json:"meta_token"`
	BQProjectID  string              `json:"bq_project_id"`
	BQDataset    string              `json:"bq_dataset"`
	Start        string              `json:"start"`
	End          string              `json:"end"`
	Tables       []string            `json:"tables"`
	WriteMode    string              `json:"write_mode"`
	Credentials  jsonpool.RawMessage `json:"credentials"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "Service is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLoad(local bool) http.HandlerFunc {
	return s.jobHandler("load", local, s.runner.Load)
}

func (s *Server) handleUpdate(local bool) http.HandlerFunc {
	return s.jobHandler("update", local, s.runner.Update)
}

type jobFunc func(ctx context.Context, p jobs.Params) (*pipeline.Report, error)

func (s *Server) jobHandler(job string, local bool, run jobFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context(), s.logger).With(zap.String("job", job), zap.Bool("local", local))

		params, err := decodeJobRequest(w, r, local)
		if err != nil {
			log.Warn("rejected job request", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
			return
		}

		ctx := r.Context()
		if s.cfg.JobTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
			defer cancel()
		}

		report, err := run(ctx, params)
		if err != nil {
			log.Error("job failed", zap.Error(err), zap.String("error_type", string(syncerrors.TypeOf(err))))
			writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Job execution failed"})
			return
		}

		log.Info("job executed",
			zap.Int64("rows_written", report.RowsWritten()),
			zap.Int64("rows_deleted", report.RowsDeleted()),
			zap.Bool("no_op", report.NoOp))
		writeJSON(w, http.StatusOK, messageResponse{Message: "Job executed successfully"})
	}
}

// decodeJobRequest parses and checks the body. Anything rejected here is a
// 400; failures of the job itself are a generic 500. Credentials are only
// read by the local endpoints; they may be the key object itself or a
// string holding it.
func decodeJobRequest(w http.ResponseWriter, r *http.Request, local bool) (jobs.Params, error) {
	var req jobRequest
	if err := jsonpool.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		return jobs.Params{}, errors.New("invalid JSON body")
	}
	if len(req.AdAccountIDs) == 0 {
		return jobs.Params{}, errors.New("ad_account_ids is required")
	}

	if req.Start != "" || req.End != "" {
		if req.Start == "" || req.End == "" {
			return jobs.Params{}, errors.New("start and end must be given together")
		}
		if _, err := models.NewDateRange(req.Start, req.End); err != nil {
			return jobs.Params{}, errors.New("invalid start/end window")
		}
	}
	if req.WriteMode != "" {
		if _, err := warehouse.ParseWriteMode(req.WriteMode); err != nil {
			return jobs.Params{}, errors.New("write_mode must be append or truncate")
		}
	}

	p := jobs.Params{
		AccountIDs: req.AdAccountIDs,
		Token:      req.MetaToken,
		ProjectID:  req.BQProjectID,
		Dataset:    req.BQDataset,
		Start:      req.Start,
		End:        req.End,
		Tables:     req.Tables,
		WriteMode:  req.WriteMode,
	}
	if local {
		creds, err := credentialsJSON(req.Credentials)
		if err != nil {
			return jobs.Params{}, err
		}
		if len(creds) == 0 {
			return jobs.Params{}, errors.New("credentials is required")
		}
		p.CredentialsJSON = creds
	}
	return p, nil
}

func credentialsJSON(raw jsonpool.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := jsonpool.Unmarshal(raw, &s); err != nil {
		return nil, errors.New("invalid credentials")
	}
	return []byte(strings.TrimSpace(s)), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := jsonpool.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
