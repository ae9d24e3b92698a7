// Package tracking reports run parameters and per-epoch metrics to an
// experiment tracker. Tracking is an explicit optional value: callers hold a
// Tracker that is either the MLflow client or the nop implementation, never
// a nil they must remember to check.
package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Tracker records experiment runs.
type Tracker interface {
	// StartRun opens a run and must be called before any logging.
	StartRun(name string) error
	// LogParams records immutable run parameters.
	LogParams(params map[string]string) error
	// LogMetrics records metric values for one step (epoch).
	LogMetrics(metrics map[string]float64, step int) error
	// EndRun marks the run finished.
	EndRun() error
}

// Nop is the Tracker used when no tracking URI is configured.
type Nop struct{}

func (Nop) StartRun(string) error                    { return nil }
func (Nop) LogParams(map[string]string) error        { return nil }
func (Nop) LogMetrics(map[string]float64, int) error { return nil }
func (Nop) EndRun() error                            { return nil }

// MLflow talks to an MLflow-compatible tracking server over its REST API.
type MLflow struct {
	uri        string
	experiment string
	client     *http.Client
	runID      string
	now        func() time.Time
}

// NewMLflow creates a client for the tracking server at uri, logging into
// the given experiment id.
func NewMLflow(uri, experiment string) *MLflow {
	return &MLflow{
		uri:        uri,
		experiment: experiment,
		client:     &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

type runInfo struct {
	RunID string `json:"run_id"`
}

type runPayload struct {
	Run struct {
		Info runInfo `json:"info"`
	} `json:"run"`
}

// StartRun creates a run on the server and remembers its id.
func (m *MLflow) StartRun(name string) error {
	req := map[string]interface{}{
		"experiment_id": m.experiment,
		"run_name":      name,
		"start_time":    m.now().UnixNano() / int64(time.Millisecond),
	}
	var resp runPayload
	if err := m.post("runs/create", req, &resp); err != nil {
		return errors.Wrap(err, "creating tracking run")
	}
	if resp.Run.Info.RunID == "" {
		return errors.New("tracking server returned no run id")
	}
	m.runID = resp.Run.Info.RunID
	return nil
}

type kv struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// LogParams records run parameters in one batch.
func (m *MLflow) LogParams(params map[string]string) error {
	if m.runID == "" {
		return errors.New("tracking run not started")
	}
	entries := make([]kv, 0, len(params))
	for k, v := range params {
		entries = append(entries, kv{Key: k, Value: v})
	}
	req := map[string]interface{}{
		"run_id": m.runID,
		"params": entries,
	}
	return errors.Wrap(m.post("runs/log-batch", req, nil), "logging tracking params")
}

type metricEntry struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int     `json:"step"`
}

// LogMetrics records metric values for one step in one batch.
func (m *MLflow) LogMetrics(metrics map[string]float64, step int) error {
	if m.runID == "" {
		return errors.New("tracking run not started")
	}
	ts := m.now().UnixNano() / int64(time.Millisecond)
	entries := make([]metricEntry, 0, len(metrics))
	for k, v := range metrics {
		entries = append(entries, metricEntry{Key: k, Value: v, Timestamp: ts, Step: step})
	}
	req := map[string]interface{}{
		"run_id":  m.runID,
		"metrics": entries,
	}
	return errors.Wrap(m.post("runs/log-batch", req, nil), "logging tracking metrics")
}

// EndRun marks the run FINISHED on the server.
func (m *MLflow) EndRun() error {
	if m.runID == "" {
		return nil
	}
	req := map[string]interface{}{
		"run_id":   m.runID,
		"status":   "FINISHED",
		"end_time": m.now().UnixNano() / int64(time.Millisecond),
	}
	return errors.Wrap(m.post("runs/update", req, nil), "ending tracking run")
}

func (m *MLflow) post(endpoint string, req interface{}, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/2.0/mlflow/%s", m.uri, endpoint)
	httpResp, err := m.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("tracking server returned %s for %s", httpResp.Status, endpoint)
	}
	if resp == nil {
		return nil
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}
