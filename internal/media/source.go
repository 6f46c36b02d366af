// Package media holds local capture sources and sinks for received tracks.
package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SampleReader produces timed media samples for one track.
type SampleReader interface {
	NextSample() (pmedia.Sample, error)
	Close() error
}

// Source is a capture handle producing zero or more outbound tracks.
// The session owns it and must Stop it on swap or teardown.
type Source struct {
	kind   domain.SourceKind
	tracks []*LocalTrack

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewSource(kind domain.SourceKind, tracks ...*LocalTrack) *Source {
	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		kind:   kind,
		tracks: tracks,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Source) Kind() domain.SourceKind { return s.kind }

func (s *Source) Tracks() []*LocalTrack {
	out := make([]*LocalTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Track returns the first track of the given kind, or nil.
func (s *Source) Track(kind webrtc.RTPCodecType) *LocalTrack {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// SetEnabled flips every track of the given kind.
func (s *Source) SetEnabled(kind webrtc.RTPCodecType, enabled bool) {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

// Feed starts pacing samples from r into track until the source stops or r is drained.
func (s *Source) Feed(track *LocalTrack, r SampleReader) {
	logger := log.With().
		Str("module", "media").
		Str("source", string(s.kind)).
		Str("track_id", track.ID()).
		Logger()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(track, r, &logger)
	}()
}

func (s *Source) pump(track *LocalTrack, r SampleReader, logger *zerolog.Logger) {
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn().Err(err).Msg("close sample reader")
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		sample, err := r.NextSample()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("capture drained")
			} else {
				logger.Error().Err(err).Msg("capture read error, stopping feed")
			}
			return
		}
		if err := track.WriteSample(sample); err != nil {
			if errors.Is(err, ErrTrackStopped) {
				return
			}
			logger.Warn().Err(err).Msg("write sample")
		}
		if sample.Duration <= 0 {
			continue
		}
		timer := time.NewTimer(sample.Duration)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop releases the source: all tracks stop and feeds exit. Safe to call twice.
func (s *Source) Stop() {
	s.once.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
		s.cancel()
		s.wg.Wait()
		log.Info().Str("module", "media").Str("source", string(s.kind)).Msg("source stopped")
	})
}

func (s *Source) Stopped() bool {
	return s.ctx.Err() != nil
}
