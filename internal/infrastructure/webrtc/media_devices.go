package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"skillhub/internal/core/domain"
	"skillhub/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

const (
	defaultFrameDuration = 33 * time.Millisecond
	oggPageDuration      = 20 * time.Millisecond
	opusSampleRate       = 48000
)

// MediaConfig names the files local tracks are read from. An empty path
// yields a track that is negotiated but sends nothing.
type MediaConfig struct {
	VideoFile string // IVF container, VP8
	AudioFile string // Ogg container, Opus
}

// FileMediaDevices plays local media from disk in place of capture devices.
type FileMediaDevices struct {
	config MediaConfig
	logger *zap.SugaredLogger
}

func NewFileMediaDevices(config MediaConfig, logger *zap.SugaredLogger) *FileMediaDevices {
	return &FileMediaDevices{config: config, logger: logger}
}

func (d *FileMediaDevices) GetUserMedia(ctx context.Context, constraints ports.MediaConstraints) (ports.LocalStream, error) {
	if !constraints.Video && !constraints.Audio {
		return nil, domain.ErrNoMediaRequested
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := &LocalStream{id: uuid.New().String()}

	if constraints.Video {
		track, err := d.openVideo(stream.id)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.video = track
	}

	if constraints.Audio {
		track, err := d.openAudio(stream.id)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.audio = track
	}

	d.logger.Infow("local media acquired",
		"stream_id", stream.id,
		"video", stream.video != nil,
		"audio", stream.audio != nil,
	)
	return stream, nil
}

func (d *FileMediaDevices) openVideo(streamID string) (*LocalTrack, error) {
	sample, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	track := newLocalTrack(sample, webrtc.RTPCodecTypeVideo)

	if d.config.VideoFile == "" {
		return track, nil
	}

	file, err := os.Open(d.config.VideoFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open video source: %w", err)
	}
	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read video source: %w", err)
	}
	if header.FourCC != "VP80" {
		file.Close()
		return nil, fmt.Errorf("unsupported video codec %q", header.FourCC)
	}

	src := &ivfSource{file: file, reader: reader, frame: frameDuration(header)}
	track.start(src, src.frame, d.logger)
	return track, nil
}

func (d *FileMediaDevices) openAudio(streamID string) (*LocalTrack, error) {
	sample, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	track := newLocalTrack(sample, webrtc.RTPCodecTypeAudio)

	if d.config.AudioFile == "" {
		return track, nil
	}

	file, err := os.Open(d.config.AudioFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio source: %w", err)
	}
	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read audio source: %w", err)
	}

	track.start(&oggSource{file: file, reader: reader}, oggPageDuration, d.logger)
	return track, nil
}

func frameDuration(header *ivfreader.IVFFileHeader) time.Duration {
	if header.TimebaseDenominator == 0 || header.TimebaseNumerator == 0 {
		return defaultFrameDuration
	}
	return time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
}

// LocalStream groups the tracks of one GetUserMedia call.
type LocalStream struct {
	id    string
	video *LocalTrack
	audio *LocalTrack
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Tracks() []ports.LocalTrack {
	var tracks []ports.LocalTrack
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	return tracks
}

func (s *LocalStream) VideoTrack() ports.LocalTrack {
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *LocalStream) AudioTrack() ports.LocalTrack {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *LocalStream) Stop() {
	for _, track := range s.Tracks() {
		track.Stop()
	}
}

// sampleSource yields the next media sample from a container file.
type sampleSource interface {
	next() (media.Sample, error)
	rewind() error
	io.Closer
}

type LocalTrack struct {
	sample  *webrtc.TrackLocalStaticSample
	kind    webrtc.RTPCodecType
	enabled atomic.Bool
	sent    atomic.Uint64

	source   sampleSource
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newLocalTrack(sample *webrtc.TrackLocalStaticSample, kind webrtc.RTPCodecType) *LocalTrack {
	t := &LocalTrack{
		sample: sample,
		kind:   kind,
		stop:   make(chan struct{}),
	}
	t.enabled.Store(true)
	return t
}

func (t *LocalTrack) ID() string                    { return t.sample.ID() }
func (t *LocalTrack) Kind() webrtc.RTPCodecType     { return t.kind }
func (t *LocalTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.sample }

// SamplesSent counts samples written while the track was enabled.
func (t *LocalTrack) SamplesSent() uint64 { return t.sent.Load() }

func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
		if t.done != nil {
			<-t.done
		}
		if t.source != nil {
			t.source.Close()
		}
	})
}

func (t *LocalTrack) start(src sampleSource, interval time.Duration, logger *zap.SugaredLogger) {
	t.source = src
	t.done = make(chan struct{})
	go t.pump(interval, logger)
}

// pump writes one sample per interval, looping the source at EOF.
func (t *LocalTrack) pump(interval time.Duration, logger *zap.SugaredLogger) {
	defer close(t.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}

		sample, err := t.source.next()
		if errors.Is(err, io.EOF) {
			if err := t.source.rewind(); err != nil {
				logger.Warnw("failed to rewind media source", "track_id", t.ID(), "error", err)
				return
			}
			continue
		}
		if err != nil {
			logger.Warnw("failed to read media source", "track_id", t.ID(), "error", err)
			return
		}

		// A disabled track keeps its clock running but sends nothing.
		if !t.enabled.Load() {
			continue
		}
		if err := t.sample.WriteSample(sample); err != nil {
			logger.Debugw("failed to write sample", "track_id", t.ID(), "error", err)
			continue
		}
		t.sent.Add(1)
	}
}

type ivfSource struct {
	file   *os.File
	reader *ivfreader.IVFReader
	frame  time.Duration
}

func (s *ivfSource) next() (media.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if err != nil {
		return media.Sample{}, err
	}
	return media.Sample{Data: frame, Duration: s.frame}, nil
}

func (s *ivfSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := ivfreader.NewWith(s.file)
	if err != nil {
		return err
	}
	s.reader = reader
	return nil
}

func (s *ivfSource) Close() error { return s.file.Close() }

type oggSource struct {
	file    *os.File
	reader  *oggreader.OggReader
	granule uint64
}

func (s *oggSource) next() (media.Sample, error) {
	page, header, err := s.reader.ParseNextPage()
	if err != nil {
		return media.Sample{}, err
	}
	var samples uint64
	if header.GranulePosition > s.granule {
		samples = header.GranulePosition - s.granule
	}
	s.granule = header.GranulePosition
	return media.Sample{
		Data:     page,
		Duration: time.Duration(samples) * time.Second / opusSampleRate,
	}, nil
}

func (s *oggSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(s.file)
	if err != nil {
		return err
	}
	s.reader = reader
	s.granule = 0
	return nil
}

func (s *oggSource) Close() error { return s.file.Close() }
