package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ricesearch/rice-clickmodels/internal/clickmodel"
	reqctx "github.com/ricesearch/rice-clickmodels/internal/pkg/context"
	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/hash"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/security"
	"github.com/ricesearch/rice-clickmodels/internal/session"
	"github.com/ricesearch/rice-clickmodels/internal/store"
)

// Prediction kinds served under /v1/models/{name}/.
const (
	kindPredict     = "predict"
	kindConditional = "conditional"
	kindRelevance   = "relevance"
)

// maxRequestBody bounds prediction request bodies.
const maxRequestBody = 8 << 20

// SessionRequest is one session submitted for prediction. Clicks may be
// omitted for predict and relevance requests. Relevance holds one editorial
// grade per document, -1 for ungraded; models keyed by grade need it.
type SessionRequest struct {
	Query     string            `json:"query"`
	Docs      []string          `json:"docs"`
	Clicks    []bool            `json:"clicks,omitempty"`
	Relevance []int             `json:"relevance,omitempty"`
	Vertical  *session.Vertical `json:"vertical,omitempty"`
}

// PredictRequest is the body of every prediction endpoint.
type PredictRequest struct {
	Sessions []SessionRequest `json:"sessions"`
}

// PredictResponse carries one probability list per submitted session.
type PredictResponse struct {
	Model    string      `json:"model"`
	Snapshot string      `json:"snapshot"`
	Kind     string      `json:"kind"`
	Results  [][]float64 `json:"results"`
}

// ModelInfo describes a stored snapshot without its parameters.
type ModelInfo struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Rule      string    `json:"rule"`
	MaxRank   int       `json:"max_rank"`
	Sessions  int       `json:"sessions"`
	TrainedAt time.Time `json:"trained_at"`
	Checksum  string    `json:"checksum"`
	Params    int       `json:"params"`
}

// ModelListResponse lists stored snapshots and the model names that can be
// trained.
type ModelListResponse struct {
	Snapshots []string `json:"snapshots"`
	Available []string `json:"available"`
}

func newModelInfo(snap *store.Snapshot) ModelInfo {
	return ModelInfo{
		Name:      snap.Name,
		Model:     snap.Model,
		Rule:      snap.Rule,
		MaxRank:   snap.MaxRank,
		Sessions:  snap.Sessions,
		TrainedAt: snap.TrainedAt,
		Checksum:  snap.Checksum,
		Params:    len(snap.Triples),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List(r.Context())
	s.metrics.RecordStore("list", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, ModelListResponse{
		Snapshots: names,
		Available: clickmodel.Names(),
	})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Get(r.Context(), r.PathValue("name"))
	s.metrics.RecordStore("get", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newModelInfo(snap))
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := s.store.Delete(r.Context(), name)
	s.metrics.RecordStore("delete", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.models.Remove(name)
	w.WriteHeader(http.StatusNoContent)
}

// cachedModel is a rebuilt model together with the checksum it came from.
type cachedModel struct {
	model    *clickmodel.Model
	checksum string
}

// model returns the rebuilt model stored under name, from cache when
// possible.
func (s *Server) model(r *http.Request, name string) (*cachedModel, error) {
	if v, ok := s.models.Get(name); ok {
		s.metrics.RecordCache(true)
		return v.(*cachedModel), nil
	}
	s.metrics.RecordCache(false)

	snap, err := s.store.Get(r.Context(), name)
	s.metrics.RecordStore("get", err)
	if err != nil {
		return nil, err
	}
	m, err := store.Rebuild(snap)
	if err != nil {
		return nil, err
	}

	cm := &cachedModel{model: m, checksum: snap.Checksum}
	s.models.Add(name, cm)
	s.log.Debug("Loaded model", "name", name, "model", snap.Model)
	return cm, nil
}

func (s *Server) handlePredict(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		name := r.PathValue("name")

		var req PredictRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.InvalidRequestError("invalid JSON body"))
			return
		}
		if err := security.ValidateSessionCount(len(req.Sessions)); err != nil {
			s.writeError(w, r, apperrors.ValidationError(err.Error()))
			return
		}

		cm, err := s.model(r, name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		sessions := make([]*session.Session, len(req.Sessions))
		for i, sr := range req.Sessions {
			sess, err := sr.toSession(kind == kindConditional)
			if err == nil {
				v := security.SessionValidator{Query: sr.Query, Docs: sr.Docs}
				if verr := v.Validate(); verr != nil {
					err = apperrors.ValidationError(verr.Error())
				}
			}
			if err == nil {
				err = sess.Validate(cm.model.MaxRank())
			}
			if err != nil {
				s.writeError(w, r, apperrors.Wrap(apperrors.CodeMalformedSession,
					fmt.Sprintf("session %d", i), err))
				return
			}
			sessions[i] = sess
		}

		resp := PredictResponse{
			Model:    cm.model.Name(),
			Snapshot: name,
			Kind:     kind,
			Results:  make([][]float64, len(sessions)),
		}
		for i, sess := range sessions {
			resp.Results[i] = s.predict(cm, kind, sess)
		}

		s.metrics.RecordPrediction(cm.model.Name(), kind, time.Since(start))
		writeJSON(w, http.StatusOK, resp)
	}
}

// predict computes one session's output, consulting the prediction cache.
func (s *Server) predict(cm *cachedModel, kind string, sess *session.Session) []float64 {
	var key string
	if s.predictions != nil {
		key = predictionKey(cm.checksum, kind, sess)
		if v, ok := s.predictions.Get(key); ok {
			return v.([]float64)
		}
	}

	var out []float64
	switch kind {
	case kindConditional:
		out = cm.model.ConditionalClickProbs(sess)
	case kindRelevance:
		out = make([]float64, sess.Len())
		for i, res := range sess.Results {
			out[i] = cm.model.PredictRelevance(sess.Query, res)
		}
	default:
		out = cm.model.PredictClickProbs(sess)
	}

	if s.predictions != nil {
		s.predictions.Add(key, out)
	}
	return out
}

// predictionKey identifies a prediction by model state, kind and session.
// Clicks only matter to conditional predictions.
func predictionKey(checksum, kind string, sess *session.Session) string {
	model := checksum + ":" + kind
	if v := sess.Vertical; v != nil {
		model += ":v" + strconv.Itoa(v.Position) + ":" + strconv.FormatBool(v.Click)
	}
	if grades := sess.Grades(); grades != nil {
		parts := make([]string, len(grades))
		for i, g := range grades {
			parts[i] = strconv.Itoa(g)
		}
		model += ":g" + strings.Join(parts, ",")
	}
	var clicks []bool
	if kind == kindConditional {
		clicks = sess.Clicks()
	}
	return hash.SessionKey(model, sess.Query, sess.Docs(), clicks)
}

// toSession converts the request form. Missing clicks read as no clicks
// unless requireClicks is set. Missing grades read as ungraded.
func (sr SessionRequest) toSession(requireClicks bool) (*session.Session, error) {
	clicks := sr.Clicks
	switch {
	case clicks == nil && requireClicks:
		return nil, apperrors.ValidationError("clicks are required")
	case clicks == nil:
		clicks = make([]bool, len(sr.Docs))
	case len(clicks) != len(sr.Docs):
		return nil, apperrors.ValidationError(
			fmt.Sprintf("%d docs but %d clicks", len(sr.Docs), len(clicks)))
	}
	if sr.Relevance != nil && len(sr.Relevance) != len(sr.Docs) {
		return nil, apperrors.ValidationError(
			fmt.Sprintf("%d docs but %d relevance grades", len(sr.Docs), len(sr.Relevance)))
	}

	sess := session.New(sr.Query, sr.Docs, clicks)
	for i, g := range sr.Relevance {
		if g < session.NoRelevance {
			return nil, apperrors.ValidationError(fmt.Sprintf("invalid relevance grade %d", g))
		}
		sess.Results[i].Relevance = g
	}
	if sr.Vertical != nil {
		v := *sr.Vertical
		sess.Vertical = &v
	}
	return sess, nil
}

// writeError writes err as a JSON error and logs server-side failures.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if !apperrors.IsNotFound(err) && !apperrors.IsValidation(err) &&
		!apperrors.IsMalformedSession(err) && !apperrors.HasCode(err, apperrors.CodeInvalidRequest) {
		s.log.Error("Request failed",
			"request_id", reqctx.RequestID(r.Context()),
			"path", security.SanitizeForLog(r.URL.Path),
			"error", err)
	}
	apperrors.WriteError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers already sent
	_ = json.NewEncoder(w).Encode(v)
}
