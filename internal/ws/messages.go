package ws

import (
	"encoding/json"
	"time"

	"energy_prices/internal/fetcher"
	"energy_prices/internal/model"
)

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> Server messages

type ReportRequestPayload struct {
	Kind      string `json:"kind"`
	Years     []int  `json:"years"`
	MonthYear int    `json:"month_year,omitempty"`
	Days      string `json:"days,omitempty"`
}

type CacheRefreshPayload struct {
	Kind string `json:"kind"`
	Year int    `json:"year"`
}

// Server -> Client messages

type DataLoadedPayload struct {
	Country  string   `json:"country"`
	Timezone string   `json:"timezone"`
	Kinds    []string `json:"kinds"`
}

type FetchWindowPayload struct {
	RunID      string `json:"run_id"`
	Kind       string `json:"kind"`
	Country    string `json:"country"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Points     int    `json:"points"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type CacheEntryInfo struct {
	Kind          string          `json:"kind"`
	Country       string          `json:"country"`
	Year          int             `json:"year"`
	FetchedAt     string          `json:"fetched_at"`
	Complete      bool            `json:"complete"`
	Rows          int             `json:"rows"`
	FailedWindows []TimeRangeInfo `json:"failed_windows,omitempty"`
}

type TimeRangeInfo struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type CacheStatusPayload struct {
	Entries []CacheEntryInfo `json:"entries"`
}

type CacheRefreshedPayload struct {
	Kind  string `json:"kind"`
	Year  int    `json:"year"`
	Rows  int    `json:"rows"`
	Error string `json:"error,omitempty"`
}

type ErrorPayload struct {
	Request string `json:"request"`
	Message string `json:"message"`
}

// Message type constants
const (
	// Client -> Server
	TypeReportRequest = "report:request"
	TypeCacheRefresh  = "cache:refresh"
	TypeCacheQuery    = "cache:query"

	// Server -> Client
	TypeDataLoaded     = "data:loaded"
	TypeFetchWindow    = "fetch:window"
	TypeReportData     = "report:data"
	TypeCacheStatus    = "cache:status"
	TypeCacheRefreshed = "cache:refreshed"
	TypeError          = "error"
)

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

func FetchWindowFromResult(runID string, kind model.Kind, country string, r fetcher.WindowResult) FetchWindowPayload {
	p := FetchWindowPayload{
		RunID:      runID,
		Kind:       string(kind),
		Country:    country,
		Start:      r.Window.Start.Format(time.RFC3339),
		End:        r.Window.End.Format(time.RFC3339),
		Points:     r.Series.Len(),
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		p.Error = r.Err.Error()
	}
	return p
}

func CacheEntryFromModel(e model.CacheEntry) CacheEntryInfo {
	info := CacheEntryInfo{
		Kind:      string(e.Kind),
		Country:   e.Country,
		Year:      e.Year,
		FetchedAt: e.FetchedAt.Format(time.RFC3339),
		Complete:  e.Complete,
		Rows:      e.Rows,
	}
	for _, w := range e.FailedWindows {
		info.FailedWindows = append(info.FailedWindows, TimeRangeInfo{
			Start: w.Start.Format(time.RFC3339),
			End:   w.End.Format(time.RFC3339),
		})
	}
	return info
}
