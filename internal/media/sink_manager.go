package media

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// TrackStats is a read-only view of one sink.
type TrackStats struct {
	User    domain.UserID `json:"user_id"`
	TrackID string        `json:"track_id"`
	Kind    string        `json:"kind"`
	Packets uint64        `json:"packets"`
	Bytes   uint64        `json:"bytes"`
}

// SinkManager keeps one Sink per received track, grouped by remote user.
type SinkManager struct {
	mu    sync.RWMutex
	sinks map[domain.UserID]map[string]*Sink
}

func NewSinkManager() *SinkManager {
	return &SinkManager{
		sinks: make(map[domain.UserID]map[string]*Sink),
	}
}

// Start drains src until ctx is done or the track ends, then forgets it.
func (m *SinkManager) Start(ctx context.Context, user domain.UserID, trackID, kind string, src RTPReader) {
	logger := log.With().
		Str("module", "sink").
		Str("peer", string(user)).
		Str("track_id", trackID).
		Logger()

	sinkCtx, cancel := context.WithCancel(ctx)
	sink := NewSink(src, kind, cancel)

	m.mu.Lock()
	byTrack, ok := m.sinks[user]
	if !ok {
		byTrack = make(map[string]*Sink)
		m.sinks[user] = byTrack
	}
	if old, ok := byTrack[trackID]; ok {
		logger.Info().Msg("replacing existing sink")
		old.cancel()
	}
	byTrack[trackID] = sink
	m.mu.Unlock()

	go func() {
		sink.loop(sinkCtx, &logger)
		cancel()
		m.forget(user, trackID, sink)
	}()
}

func (m *SinkManager) forget(user domain.UserID, trackID string, sink *Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTrack, ok := m.sinks[user]
	if !ok || byTrack[trackID] != sink {
		return
	}
	delete(byTrack, trackID)
	if len(byTrack) == 0 {
		delete(m.sinks, user)
	}
}

func (m *SinkManager) Stats() []TrackStats {
	m.mu.RLock()
	out := make([]TrackStats, 0, len(m.sinks))
	for user, byTrack := range m.sinks {
		for id, s := range byTrack {
			out = append(out, TrackStats{
				User:    user,
				TrackID: id,
				Kind:    s.Kind,
				Packets: s.Packets(),
				Bytes:   s.Bytes(),
			})
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].User != out[j].User {
			return out[i].User < out[j].User
		}
		return out[i].TrackID < out[j].TrackID
	})
	return out
}
