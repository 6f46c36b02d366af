package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// TrackDTO is a read-only view of a received track for renderers.
type TrackDTO struct {
	ID       string `json:"id"`
	StreamID string `json:"stream_id"`
	Kind     string `json:"kind"`
}

type PeerTracks struct {
	User   domain.UserID `json:"user_id"`
	Tracks []TrackDTO    `json:"tracks"`
}

// TrackRegistry maps remote users to the tracks received from them.
// Only the session mutates it; everyone else reads snapshots.
type TrackRegistry struct {
	mu     sync.RWMutex
	tracks map[domain.UserID][]core.RemoteTrack
}

func NewTrackRegistry() *TrackRegistry {
	return &TrackRegistry{
		tracks: make(map[domain.UserID][]core.RemoteTrack),
	}
}

// Add records track for user. A track id seen twice is kept once.
func (r *TrackRegistry) Add(user domain.UserID, track core.RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tracks[user] {
		if t.ID() == track.ID() {
			return
		}
	}
	r.tracks[user] = append(r.tracks[user], track)
	log.Info().Str("module", "app.registry").Str("peer", string(user)).Str("track_id", track.ID()).Str("kind", track.Kind().String()).Msg("track added")
}

// Remove drops every track of user and reports whether there were any.
func (r *TrackRegistry) Remove(user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracks[user]; !ok {
		return false
	}
	delete(r.tracks, user)
	log.Info().Str("module", "app.registry").Str("peer", string(user)).Msg("tracks removed")
	return true
}

func (r *TrackRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = make(map[domain.UserID][]core.RemoteTrack)
}

func (r *TrackRegistry) Tracks(user domain.UserID) []core.RemoteTrack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts := r.tracks[user]
	out := make([]core.RemoteTrack, len(ts))
	copy(out, ts)
	return out
}

func (r *TrackRegistry) Has(user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tracks[user]
	return ok
}

func (r *TrackRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}

// Snapshot lists every user with their tracks, ordered by user id.
func (r *TrackRegistry) Snapshot() []PeerTracks {
	r.mu.RLock()
	out := make([]PeerTracks, 0, len(r.tracks))
	for user, ts := range r.tracks {
		pt := PeerTracks{User: user, Tracks: make([]TrackDTO, 0, len(ts))}
		for _, t := range ts {
			pt.Tracks = append(pt.Tracks, TrackDTO{ID: t.ID(), StreamID: t.StreamID(), Kind: t.Kind().String()})
		}
		out = append(out, pt)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}
