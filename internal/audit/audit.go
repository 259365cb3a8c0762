package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/google/uuid"

	"github.com/Skotchmaster/identity-gateway/internal/logging"
)

// Entry is one auth decision in the audit trail.
type Entry struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	Code    string    `json:"code,omitempty"`
	UserID  string    `json:"user_id,omitempty"`
	Email   string    `json:"email,omitempty"`
	Path    string    `json:"path,omitempty"`
	IP      string    `json:"ip,omitempty"`
}

// Recorder indexes auth decisions into Elasticsearch. A nil Recorder is a
// no-op so the gateway runs without a cluster in dev and tests.
type Recorder struct {
	ES    *elasticsearch.Client
	Index string
}

func NewRecorder(es *elasticsearch.Client, index string) *Recorder {
	return &Recorder{ES: es, Index: index}
}

func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.ES == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	body, err := json.Marshal(e)
	if err != nil {
		logging.FromContext(ctx).Error("audit_marshal_failed", "error", err)
		return
	}

	res, err := r.ES.Index(
		r.Index,
		bytes.NewReader(body),
		r.ES.Index.WithContext(ctx),
		r.ES.Index.WithDocumentID(e.ID),
	)
	if err != nil {
		logging.FromContext(ctx).Error("audit_index_failed", "error", err)
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		logging.FromContext(ctx).Error("audit_index_failed", "status", res.Status())
	}
}

// Search queries the audit trail over outcome, code, email and user id.
func (r *Recorder) Search(ctx context.Context, query string, from, size int) (int64, []Entry, error) {
	if r == nil || r.ES == nil {
		return 0, nil, fmt.Errorf("audit search unavailable")
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"email^2", "user_id", "outcome", "code"},
				"fuzziness": "AUTO",
			},
		},
		"from": from,
		"size": size,
		"sort": []map[string]interface{}{{"at": map[string]interface{}{"order": "desc"}}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, err
	}

	res, err := r.ES.Search(
		r.ES.Search.WithContext(ctx),
		r.ES.Search.WithIndex(r.Index),
		r.ES.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, nil, fmt.Errorf("audit search error: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Entry `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, nil, err
	}

	entries := make([]Entry, len(parsed.Hits.Hits))
	for i, hit := range parsed.Hits.Hits {
		entries[i] = hit.Source
	}
	return parsed.Hits.Total.Value, entries, nil
}
