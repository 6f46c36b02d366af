package media

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// RTPReader is the read side of a received track.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Sink drains one received track and counts what arrived.
type Sink struct {
	Src  RTPReader
	Kind string

	packets atomic.Uint64
	bytes   atomic.Uint64

	cancel context.CancelFunc
}

func NewSink(src RTPReader, kind string, cancel context.CancelFunc) *Sink {
	return &Sink{Src: src, Kind: kind, cancel: cancel}
}

// loop reads RTP packets until ctx is done or the source ends.
func (s *Sink) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("sink ctx done")
			return
		default:
		}
		pkt, _, err := s.Src.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("remote track ended")
			} else {
				logger.Warn().Err(err).Msg("sink read RTP error, stopping")
			}
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(pkt.MarshalSize()))
	}
}

func (s *Sink) Packets() uint64 { return s.packets.Load() }
func (s *Sink) Bytes() uint64   { return s.bytes.Load() }
