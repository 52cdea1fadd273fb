package dashboard

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"iris-explainer/internal/common"
	"iris-explainer/internal/ml"
	"iris-explainer/internal/storage"
	"iris-explainer/internal/workflow"
)

const maxRequestBytes = 1 << 14

// errorResponse is the JSON body of every failed API call. Label is set when prediction
// succeeded but attribution did not.
type errorResponse struct {
	Error string `json:"error"`
	Label string `json:"label,omitempty"`
}

type modelResponse struct {
	ml.ModelInfo
	OutputIndex int `json:"output_index"`
}

type importanceResponse struct {
	Features map[string]*ml.FeatureStats `json:"features"`
	Top      []string                    `json:"top"`
}

type historyResponse struct {
	Records []storage.PredictionRecord `json:"records"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// decodeInput reads a JSON input; fields that are absent keep their default value.
func decodeInput(r io.Reader) (ml.Input, error) {
	in := ml.DefaultInput()
	if err := json.NewDecoder(io.LimitReader(r, maxRequestBytes)).Decode(&in); err != nil {
		return ml.Input{}, err
	}
	return in, nil
}

func (d *Dashboard) handlePredictAPI(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON input: " + err.Error()})
		return
	}

	res, err := d.svc.Run(r.Context(), in)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, runError(res, err))
		return
	}

	if include, _ := strconv.ParseBool(r.URL.Query().Get("include_html")); !include {
		res.PlotHTML = ""
	}
	writeJSON(w, http.StatusOK, res)
}

func runError(res *workflow.Result, err error) errorResponse {
	out := errorResponse{Error: err.Error()}
	if res != nil && errors.Is(err, workflow.ErrExplanation) {
		out.Label = res.Label
	}
	return out
}

func (d *Dashboard) handleModelAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelResponse{ModelInfo: d.svc.ModelInfo(), OutputIndex: d.svc.OutputIndex()})
}

func (d *Dashboard) handleImportanceAPI(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r, "top", common.DefaultTopFeatures, len(common.FeatureNames()))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	features, ranked := d.svc.Importance(top)
	writeJSON(w, http.StatusOK, importanceResponse{Features: features, Top: ranked})
}

func (d *Dashboard) handleHistoryAPI(w http.ResponseWriter, r *http.Request) {
	if !d.svc.HistoryEnabled() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: workflow.ErrHistoryDisabled.Error()})
		return
	}

	limit, err := intParam(r, "limit", common.DefaultHistoryLimit, common.MaxHistory)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	records, err := d.svc.History(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read prediction history")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if records == nil {
		records = []storage.PredictionRecord{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Records: records})
}

func (d *Dashboard) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := d.svc.ModelInfo()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"objective": info.Objective,
		"trees":     info.NumTrees,
	})
}

// handleWebSocket answers each text message, a JSON input, with one JSON result or error.
func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxRequestBytes)
	d.addClient(conn)
	defer d.removeClient(conn)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("WebSocket connection closed unexpectedly")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var reply interface{}
		in := ml.DefaultInput()
		if err := json.Unmarshal(data, &in); err != nil {
			reply = errorResponse{Error: "invalid JSON input: " + err.Error()}
		} else if res, err := d.svc.Run(r.Context(), in); err != nil {
			reply = runError(res, err)
		} else {
			res.PlotHTML = ""
			reply = res
		}

		if err := conn.WriteJSON(reply); err != nil {
			log.Error().Err(err).Msg("Failed to send message to WebSocket client")
			return
		}
	}
}

func intParam(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 || v > max {
		return 0, errors.New(name + " must be an integer between 1 and " + strconv.Itoa(max))
	}
	return v, nil
}
