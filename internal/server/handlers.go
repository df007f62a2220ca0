package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/raysh454/kansa/internal/app"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Tenants

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var body CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.logger.Warn("decoding create tenant body", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	t, err := s.orchestrator.CreateTenant(r.Context(), app.TenantRequest(body))
	if err != nil {
		s.fail(w, "creating tenant", err)
		return
	}
	s.logger.Info("created tenant", logging.Field{Key: "tenant_id", Value: t.ID})
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	ts, err := s.orchestrator.ListTenants(r.Context())
	if err != nil {
		s.fail(w, "listing tenants", err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenant")
	t, err := s.orchestrator.GetTenant(r.Context(), id)
	if err != nil {
		s.fail(w, "getting tenant", err, logging.Field{Key: "tenant_id", Value: id})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenant")
	if err := s.orchestrator.DeleteTenant(r.Context(), id); err != nil {
		s.fail(w, "deleting tenant", err, logging.Field{Key: "tenant_id", Value: id})
		return
	}
	s.logger.Info("deleted tenant", logging.Field{Key: "tenant_id", Value: id})
	writeJSON(w, http.StatusNoContent, nil)
}

// Runs

func (s *Server) handleStartRun(kind model.RunKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant")

		var body StartRunRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON")
				return
			}
		}

		d, err := s.orchestrator.StartRun(r.Context(), kind, tenant, body.Domains, body.InitiatedBy)
		if err != nil {
			s.fail(w, "starting run", err, logging.Field{Key: "tenant_id", Value: tenant}, logging.Field{Key: "kind", Value: string(kind)})
			return
		}
		s.logger.Info("started run", logging.Field{Key: "run_id", Value: d.Run.ID}, logging.Field{Key: "kind", Value: string(kind)})
		writeJSON(w, http.StatusAccepted, d)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	kind := parseKind(r.URL.Query().Get("kind"))
	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}

	runs, err := s.orchestrator.ListRuns(r.Context(), tenant, kind, limit)
	if err != nil {
		s.fail(w, "listing runs", err, logging.Field{Key: "tenant_id", Value: tenant})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// parseKind accepts the path spelling ("assessments") as well as the kind.
func parseKind(v string) model.RunKind {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return ""
	case "assessment", "assessments":
		return model.KindAssessment
	case "inventory", "inventories":
		return model.KindInventory
	default:
		return model.RunKind(v)
	}
}

func (s *Server) handleGetRun(kind model.RunKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		d, err := s.orchestrator.GetRun(r.Context(), kind, id)
		if err != nil {
			s.fail(w, "getting run", err, logging.Field{Key: "run_id", Value: id})
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func (s *Server) handleProgress(kind model.RunKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		p, err := s.orchestrator.GetProgress(r.Context(), kind, id)
		if err != nil {
			s.fail(w, "getting progress", err, logging.Field{Key: "run_id", Value: id})
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) handleCancelRun(kind model.RunKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := s.orchestrator.CancelRun(r.Context(), kind, id)
		if err != nil {
			s.fail(w, "cancelling run", err, logging.Field{Key: "run_id", Value: id})
			return
		}
		s.logger.Info("cancel requested", logging.Field{Key: "run_id", Value: id}, logging.Field{Key: "signalled", Value: res.Cancelled})
		writeJSON(w, http.StatusAccepted, res)
	}
}

func (s *Server) handleReport(kind model.RunKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rep, err := s.orchestrator.GetReport(r.Context(), kind, id)
		if err != nil {
			s.fail(w, "building report", err, logging.Field{Key: "run_id", Value: id})
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleDomainDetail(kind model.RunKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		domain := chi.URLParam(r, "domain")
		d, err := s.orchestrator.GetDomainDetail(r.Context(), kind, id, domain)
		if err != nil {
			s.fail(w, "getting domain detail", err, logging.Field{Key: "run_id", Value: id}, logging.Field{Key: "domain", Value: domain})
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	var f store.FindingFilter
	if v := q.Get("domain"); v != "" {
		d, err := model.ParseDomain(model.KindAssessment, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Domain = d
	}
	if v := q.Get("severity"); v != "" {
		sev, err := model.ParseSeverity(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Severity = sev
	}
	if v := q.Get("noncompliant"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "noncompliant must be a boolean")
			return
		}
		f.NonCompliant = b
	}

	findings, err := s.orchestrator.GetFindings(r.Context(), id, f)
	if err != nil {
		s.fail(w, "listing findings", err, logging.Field{Key: "run_id", Value: id})
		return
	}
	writeJSON(w, http.StatusOK, findings)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	rep, err := s.orchestrator.Drift(r.Context(), id, q.Get("base"), q.Get("domain"))
	if err != nil {
		s.fail(w, "computing drift", err, logging.Field{Key: "run_id", Value: id})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
