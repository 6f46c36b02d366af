package media

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const (
	defaultFrameDuration = 33 * time.Millisecond
	opusSampleRate       = 48000
	vp8FourCC            = "VP80"
)

// FileAcquirer captures from disk: IVF (VP8) for video and Ogg (Opus) for audio.
// An empty path yields a track without a feed.
type FileAcquirer struct {
	VideoPath       string
	AudioPath       string
	ScreenPath      string
	ScreenAudioPath string
	StreamID        string
}

type trackPlan struct {
	kind webrtc.RTPCodecType
	path string
}

func (a *FileAcquirer) Acquire(ctx context.Context, kind domain.SourceKind) (*Source, error) {
	var plan []trackPlan
	switch kind {
	case domain.SourceCamera:
		plan = []trackPlan{
			{kind: webrtc.RTPCodecTypeAudio, path: a.AudioPath},
			{kind: webrtc.RTPCodecTypeVideo, path: a.VideoPath},
		}
	case domain.SourceScreen:
		if a.ScreenPath == "" {
			return nil, fmt.Errorf("%w: no screen capture configured", domain.ErrMediaAcquisition)
		}
		plan = []trackPlan{{kind: webrtc.RTPCodecTypeVideo, path: a.ScreenPath}}
		if a.ScreenAudioPath != "" {
			plan = append(plan, trackPlan{kind: webrtc.RTPCodecTypeAudio, path: a.ScreenAudioPath})
		}
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", domain.ErrMediaAcquisition, kind)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMediaAcquisition, err)
	}

	streamID := a.StreamID
	if streamID == "" {
		streamID = "local"
	}

	readers := make([]SampleReader, len(plan))
	closeAll := func() {
		for _, r := range readers {
			if r != nil {
				_ = r.Close()
			}
		}
	}

	tracks := make([]*LocalTrack, 0, len(plan))
	for i, p := range plan {
		if p.path != "" {
			r, err := openSampleReader(p.kind, p.path)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrMediaAcquisition, kind, p.kind.String(), err)
			}
			readers[i] = r
		}
		t, err := NewLocalTrack(p.kind, fmt.Sprintf("%s-%s", kind, p.kind.String()), streamID)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%w: %w", domain.ErrMediaAcquisition, err)
		}
		tracks = append(tracks, t)
	}

	src := NewSource(kind, tracks...)
	for i, r := range readers {
		if r != nil {
			src.Feed(tracks[i], r)
		}
	}
	log.Info().Str("module", "media").Str("source", string(kind)).Int("tracks", len(tracks)).Msg("source acquired")
	return src, nil
}

func openSampleReader(kind webrtc.RTPCodecType, path string) (SampleReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r SampleReader
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		r, err = newIVFSampleReader(f)
	default:
		r, err = newOggSampleReader(f)
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

type ivfSampleReader struct {
	f             *os.File
	r             *ivfreader.IVFReader
	frameDuration time.Duration
}

func newIVFSampleReader(f *os.File) (*ivfSampleReader, error) {
	r, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("parse ivf header: %w", err)
	}
	if header.FourCC != vp8FourCC {
		return nil, fmt.Errorf("unsupported ivf codec %q", header.FourCC)
	}
	d := defaultFrameDuration
	if header.TimebaseDenominator != 0 {
		d = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	return &ivfSampleReader{f: f, r: r, frameDuration: d}, nil
}

func (r *ivfSampleReader) NextSample() (pmedia.Sample, error) {
	frame, _, err := r.r.ParseNextFrame()
	if err != nil {
		return pmedia.Sample{}, err
	}
	return pmedia.Sample{Data: frame, Duration: r.frameDuration}, nil
}

func (r *ivfSampleReader) Close() error { return r.f.Close() }

type oggSampleReader struct {
	f           *os.File
	r           *oggreader.OggReader
	lastGranule uint64
}

func newOggSampleReader(f *os.File) (*oggSampleReader, error) {
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("parse ogg header: %w", err)
	}
	return &oggSampleReader{f: f, r: r}, nil
}

func (r *oggSampleReader) NextSample() (pmedia.Sample, error) {
	page, header, err := r.r.ParseNextPage()
	if err != nil {
		return pmedia.Sample{}, err
	}
	var d time.Duration
	if header.GranulePosition > r.lastGranule {
		samples := header.GranulePosition - r.lastGranule
		d = time.Duration(samples) * time.Second / opusSampleRate
	}
	r.lastGranule = header.GranulePosition
	return pmedia.Sample{Data: page, Duration: d}, nil
}

func (r *oggSampleReader) Close() error { return r.f.Close() }
