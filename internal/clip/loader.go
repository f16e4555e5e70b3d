package clip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"github.com/cbegin/meditone-go/internal/audio"
)

const (
	defaultMaxBytes   = 64 << 20
	resampleQuality   = 4
	streamChunkFrames = 512
)

// Stream is a decoded clip ready to be plugged into the output graph.
type Stream interface {
	audio.FinishingSource
	Close() error
}

// Loader fetches and decodes the asset at url. Load blocks and must not be
// called on the coordination context.
type Loader interface {
	Load(ctx context.Context, url string) (Stream, error)
}

// DecodeLoader reads http(s), file:// or plain path URLs and decodes wav,
// mp3, ogg vorbis or flac, resampled to SampleRate.
type DecodeLoader struct {
	SampleRate int
	Client     *http.Client
	MaxBytes   int64
}

func NewDecodeLoader(sampleRate int) *DecodeLoader {
	return &DecodeLoader{SampleRate: sampleRate}
}

func (l *DecodeLoader) Load(ctx context.Context, rawURL string) (Stream, error) {
	data, err := l.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	s, format, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("clip: decode %s: %w", rawURL, err)
	}
	var src beep.Streamer = s
	target := beep.SampleRate(l.SampleRate)
	if l.SampleRate > 0 && format.SampleRate != target {
		src = beep.Resample(resampleQuality, format.SampleRate, target, s)
	}
	return newBeepStream(src, s), nil
}

func (l *DecodeLoader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	max := l.MaxBytes
	if max <= 0 {
		max = defaultMaxBytes
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		client := l.Client
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("clip: fetch %s: status %d", rawURL, resp.StatusCode)
		}
		body = resp.Body
	case "file":
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, err
		}
		body = f
	case "":
		f, err := os.Open(rawURL)
		if err != nil {
			return nil, err
		}
		body = f
	default:
		return nil, fmt.Errorf("clip: unsupported scheme %q", u.Scheme)
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("clip: %s exceeds %d bytes", rawURL, max)
	}
	return data, nil
}

// sniff names the container from its leading bytes. Anything unrecognized
// is treated as mp3, which may start with an ID3 tag or a bare frame sync.
func sniff(data []byte) string {
	switch {
	case len(data) == 0:
		return ""
	case bytes.HasPrefix(data, []byte("RIFF")):
		return "wav"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "vorbis"
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "flac"
	default:
		return "mp3"
	}
}

func decode(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	switch sniff(data) {
	case "wav":
		return wav.Decode(bytes.NewReader(data))
	case "vorbis":
		return vorbis.Decode(io.NopCloser(bytes.NewReader(data)))
	case "flac":
		return flac.Decode(bytes.NewReader(data))
	case "mp3":
		return mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	default:
		return nil, beep.Format{}, errors.New("empty asset")
	}
}

// beepStream adapts a beep streamer to the float32 interleaved source used
// by the mixer.
type beepStream struct {
	mu       sync.Mutex
	src      beep.Streamer
	closer   io.Closer
	buf      [][2]float64
	finished bool
}

func newBeepStream(src beep.Streamer, closer io.Closer) *beepStream {
	return &beepStream{src: src, closer: closer, buf: make([][2]float64, streamChunkFrames)}
}

func (b *beepStream) Process(dst []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	frames := len(dst) / 2
	pos := 0
	for pos < frames && !b.finished {
		want := frames - pos
		if want > len(b.buf) {
			want = len(b.buf)
		}
		n, ok := b.src.Stream(b.buf[:want])
		for i := 0; i < n; i++ {
			dst[(pos+i)*2] = float32(b.buf[i][0])
			dst[(pos+i)*2+1] = float32(b.buf[i][1])
		}
		pos += n
		if !ok || n == 0 {
			b.finished = true
		}
	}
	for i := pos * 2; i < len(dst); i++ {
		dst[i] = 0
	}
}

func (b *beepStream) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

func (b *beepStream) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished = true
	if b.closer == nil {
		return nil
	}
	err := b.closer.Close()
	b.closer = nil
	return err
}

func decodeError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDecodeOrLoadFailed, err)
}

// redact drops the query string, which for signed asset links carries credentials.
func redact(u string) string {
	if i := strings.Index(u, "?"); i >= 0 {
		return u[:i]
	}
	return u
}
