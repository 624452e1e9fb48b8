package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	telemetry "roomwatch/internal/telemetry/domain"
)

const maxIngestBytes = 4 << 20

// SampleSink receives normalized samples.
type SampleSink interface {
	OnSample(kind telemetry.Kind, entityID string, fields map[string]any, tsMs int64) error
}

// IngestHandler accepts normalized samples pushed over HTTP.
type IngestHandler struct {
	sink   SampleSink
	logger *zap.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(sink SampleSink, logger *zap.Logger) (*IngestHandler, error) {
	if sink == nil {
		return nil, errors.New("telemetry ingest: nil sink")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{sink: sink, logger: logger}, nil
}

type ingestSample struct {
	Kind     string         `json:"kind"`
	EntityID string         `json:"entityId"`
	Fields   map[string]any `json:"fields"`
	TsMs     int64          `json:"tsMs"`
}

type ingestBatch struct {
	Samples []ingestSample `json:"samples"`
}

type rejectedSample struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// ServeHTTP handles POST /ingest/samples. The body is one sample, an array of
// samples, or {"samples": [...]}.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBytes))
	if err != nil {
		h.logger.Warn("telemetry ingest: read body error", zap.Error(err))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	samples, err := decodeSamples(body)
	if err != nil {
		h.logger.Warn("telemetry ingest: decode error", zap.Error(err))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(samples) == 0 {
		http.Error(w, "no samples", http.StatusBadRequest)
		return
	}

	accepted := 0
	rejected := make([]rejectedSample, 0)
	for idx, sample := range samples {
		kind, ok := telemetry.ParseKind(sample.Kind)
		if !ok {
			rejected = append(rejected, rejectedSample{Index: idx, Error: "unknown kind"})
			continue
		}
		if err := h.sink.OnSample(kind, sample.EntityID, sample.Fields, sample.TsMs); err != nil {
			rejected = append(rejected, rejectedSample{Index: idx, Error: err.Error()})
			continue
		}
		accepted++
	}

	status := http.StatusOK
	if accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"accepted": accepted, "rejected": rejected})
}

func decodeSamples(body []byte) ([]ingestSample, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if trimmed[0] == '[' {
		var list []ingestSample
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, err
	}
	if _, ok := probe["samples"]; ok {
		var batch ingestBatch
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, err
		}
		return batch.Samples, nil
	}
	var single ingestSample
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []ingestSample{single}, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
