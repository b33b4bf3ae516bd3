package ws

import (
	"log"

	"energy_prices/internal/fetcher"
	"energy_prices/internal/model"
)

// Bridge implements fetcher.Observer and broadcasts progress to the WebSocket hub.
type Bridge struct {
	hub *Hub
}

func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub}
}

func (b *Bridge) OnWindow(runID string, kind model.Kind, country string, r fetcher.WindowResult) {
	msg, err := NewEnvelope(TypeFetchWindow, FetchWindowFromResult(runID, kind, country, r))
	if err != nil {
		log.Printf("Error marshaling fetch window: %v", err)
		return
	}
	b.hub.Broadcast(msg)
}

// OnRefresh has the scheduler.RefreshFunc signature.
func (b *Bridge) OnRefresh(kind model.Kind, year int, series model.PriceSeries, err error) {
	p := CacheRefreshedPayload{Kind: string(kind), Year: year, Rows: series.Len()}
	if err != nil {
		p.Error = err.Error()
	}
	msg, merr := NewEnvelope(TypeCacheRefreshed, p)
	if merr != nil {
		log.Printf("Error marshaling cache refresh: %v", merr)
		return
	}
	b.hub.Broadcast(msg)
}
