package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hydroloop/gateway/internal/domain"
	"github.com/hydroloop/gateway/internal/infra/metrics"
)

func (s *Server) handlePostData(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	sensorID, _ := raw["sensor_id"].(string)
	if sensorID == "" {
		sensorID = "default"
	}
	fields := make(map[string]float64, len(raw))
	for k, v := range raw {
		if k == "sensor_id" {
			continue
		}
		if f, ok := v.(float64); ok {
			fields[k] = f
		}
	}

	reading := domain.NewReading(sensorID, fields, time.Time{})
	result, err := s.ingest.Ingest(r.Context(), reading)
	if err != nil {
		var taxErr *domain.TaxonomyError
		if errors.As(err, &taxErr) && taxErr.Kind == domain.KindValidation {
			writeError(w, http.StatusBadRequest, taxErr.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "saved",
		"triggered_rules": result.TriggeredRuleIDs,
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID == "" {
		all := s.cacheS.All()
		writeJSON(w, http.StatusOK, all)
		return
	}
	reading, ok := s.cacheS.Get(sensorID)
	if !ok {
		writeError(w, http.StatusNotFound, "no recent reading for sensor")
		return
	}
	writeJSON(w, http.StatusOK, reading.Snapshot())
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("sensor_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "sensor_id query parameter is required")
		return
	}
	cmds := s.commands.AcquirePending(deviceID)
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rules.List())
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := s.rules.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.rules.Add(rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	rule.ID = id
	if err := s.rules.Update(rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.rules.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cooldown_seconds": s.ledger.CooldownSeconds(),
		"recent_alerts":    s.ledger.History(),
	})
}

func (s *Server) handleNotificationsTest(w http.ResponseWriter, r *http.Request) {
	alert := s.dispatcher.Notify(r.Context(), "test_"+uuid.NewString(), "Test notification",
		domain.SeverityInfo, "test notification triggered via API", 0, 0, "", nil, true)
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleGetAC(w http.ResponseWriter, r *http.Request) {
	zone := r.URL.Query().Get("zone")
	if zone == "" {
		zone = "default"
	}
	state, ok := s.hvacDriver.Get(zone)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no state cached for zone"})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePostAC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Zone       string  `json:"zone"`
		Command    string  `json:"command"`
		TargetTemp float64 `json:"target_temp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Zone == "" {
		req.Zone = "default"
	}
	if err := s.hvacDriver.Set(r.Context(), req.Zone, domain.ACCommand(req.Command), req.TargetTemp); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	state, _ := s.hvacDriver.Get(req.Zone)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListCrops(w http.ResponseWriter, r *http.Request) {
	crops, err := s.relStore.ListActiveCrops()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, crops)
}

func (s *Server) handleCreateCrop(w http.ResponseWriter, r *http.Request) {
	var crop domain.Crop
	if err := json.NewDecoder(r.Body).Decode(&crop); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if crop.ID == "" {
		crop.ID = uuid.NewString()
	}
	if crop.Status == "" {
		crop.Status = domain.CropActive
	}
	if crop.StageEnteredAt.IsZero() {
		crop.StageEnteredAt = time.Now()
	}
	if err := s.relStore.UpsertCrop(crop); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.overlay.PutCrop(crop)
	writeJSON(w, http.StatusCreated, crop)
}

func (s *Server) handleCropConditions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	crop, err := s.relStore.GetCrop(id)
	if err != nil || crop == nil {
		writeError(w, http.StatusNotFound, domain.ErrCropNotFound.Error())
		return
	}
	reading, ok := s.cacheS.Get(crop.SensorID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"crop": crop, "conditions": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crop": crop, "conditions": reading.Snapshot()})
}

func (s *Server) handleCropRules(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	crop, err := s.relStore.GetCrop(id)
	if err != nil || crop == nil {
		writeError(w, http.StatusNotFound, domain.ErrCropNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.overlay.RulesFor(crop.SensorID))
}

func (s *Server) handleCropAdvance(w http.ResponseWriter, r *http.Request) {
	if err := s.overlay.AutoAdvance(time.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "advanced"})
}

func (s *Server) handleCropHarvest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		YieldGrams float64 `json:"yield_grams"`
		Notes      string  `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	crop, err := s.relStore.GetCrop(id)
	if err != nil || crop == nil {
		writeError(w, http.StatusNotFound, domain.ErrCropNotFound.Error())
		return
	}
	crop.Status = domain.CropHarvested
	if err := s.relStore.UpsertCrop(*crop); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.overlay.PutCrop(*crop)
	harvest := domain.Harvest{ID: uuid.NewString(), CropID: id, HarvestedAt: time.Now(), YieldGrams: req.YieldGrams, Notes: req.Notes}
	if err := s.relStore.InsertHarvest(harvest); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, harvest)
}

func (s *Server) handleCalibrationsDue(w http.ResponseWriter, r *http.Request) {
	due, err := s.relStore.DueCalibrations(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.CalibrationsDue.Set(float64(len(due)))
	writeJSON(w, http.StatusOK, due)
}
