package meditone

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cbegin/meditone-go/internal/assets"
	"github.com/cbegin/meditone-go/internal/audio"
	"github.com/cbegin/meditone-go/internal/clip"
	"github.com/cbegin/meditone-go/internal/clock"
	"github.com/cbegin/meditone-go/internal/crossfade"
	"github.com/cbegin/meditone-go/internal/dispatch"
	"github.com/cbegin/meditone-go/internal/sequencer"
)

type memStore struct {
	fail  map[string]bool
	calls []string
}

func (s *memStore) Resolve(ctx context.Context, directory, name string) (string, error) {
	s.calls = append(s.calls, name)
	if s.fail[name] {
		return "", errors.New("store unavailable")
	}
	return "mem://" + directory + "/" + name, nil
}

type memClip struct {
	frames int
	played int
	closed bool
}

func (c *memClip) Process(dst []float32) {
	for i := 0; i+1 < len(dst); i += 2 {
		if c.played >= c.frames {
			dst[i], dst[i+1] = 0, 0
			continue
		}
		dst[i], dst[i+1] = 0.1, 0.1
		c.played++
	}
}

func (c *memClip) Finished() bool { return c.closed || c.played >= c.frames }
func (c *memClip) Close() error   { c.closed = true; return nil }

type memLoader struct {
	frames map[string]int
	loaded []string
}

func (l *memLoader) Load(ctx context.Context, url string) (clip.Stream, error) {
	l.loaded = append(l.loaded, url)
	n := 100
	for name, frames := range l.frames {
		if strings.HasSuffix(url, "/"+name) {
			n = frames
		}
	}
	return &memClip{frames: n}, nil
}

type failingOutput struct{}

func (failingOutput) Open(audio.SampleSource) error { return audio.ErrEngineStartFailed }
func (failingOutput) Close() error                  { return nil }

type introFinished struct {
	category    string
	score       Score
	recommended bool
}

type harness struct {
	t         *testing.T
	engine    *Engine
	clock     *clock.Fake
	store     *memStore
	loader    *memLoader
	statuses  [][2]bool
	finished  []introFinished
	playbacks int
}

func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		clock:  clock.NewFake(time.Unix(0, 0)),
		store:  &memStore{fail: map[string]bool{}},
		loader: &memLoader{frames: map[string]int{}},
	}
	base := []EngineOption{
		WithExecutor(&dispatch.Inline{}),
		WithClock(h.clock),
		WithOutput(audio.NullOutput{}),
		WithAssetStore(h.store),
		WithLoader(h.loader),
		WithResolverOptions(assets.WithMaxAttempts(1)),
		WithIntroStatusHandler(func(rec, cat bool) {
			h.statuses = append(h.statuses, [2]bool{rec, cat})
		}),
		WithIntroFinishedHandler(func(category string, score Score, recommended bool) {
			h.finished = append(h.finished, introFinished{category, score, recommended})
		}),
		WithPlaybackFinishedHandler(func() { h.playbacks++ }),
	}
	e, err := NewEngine(48000, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = e
	t.Cleanup(func() { e.Close() })
	return h
}

// pump pulls audio through the mixer the way the device would.
func (h *harness) pump(frames int) {
	buf := make([]float32, frames*2)
	h.engine.mixer.Process(buf)
}

func (h *harness) stage() string { return h.engine.Status().Stage }

func TestEngineCalmEndToEnd(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Start("calm", ScoreOf(0.42), false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(h.statuses) != 1 || h.statuses[0] != [2]bool{false, true} {
		t.Fatalf("statuses = %v, want [(false,true)]", h.statuses)
	}
	if len(h.loader.loaded) != 1 || h.loader.loaded[0] != "mem://intros/calm_intro.mp3" {
		t.Fatalf("loaded = %v", h.loader.loaded)
	}

	h.pump(256)
	h.clock.Advance(sequencer.DefaultPause - time.Millisecond)
	if len(h.finished) != 0 {
		t.Fatalf("intro finished before the pause elapsed")
	}
	h.clock.Advance(time.Millisecond)
	if len(h.finished) != 1 || h.finished[0] != (introFinished{"calm", ScoreOf(0.42), false}) {
		t.Fatalf("finished = %+v", h.finished)
	}

	st := h.engine.Status()
	if st.Stage != "main_signal" || !st.ToneRunning || st.Category != "calm" {
		t.Fatalf("status = %+v, want calm tone running", st)
	}
	if h.engine.mixer.Source(audio.SlotTone) == nil {
		t.Fatalf("tone not attached to the output graph")
	}
	if st.CategoryIntro || st.RecommendedIntro {
		t.Fatalf("status still reports an intro during the tone: %+v", st)
	}
	if len(h.statuses) != 1 {
		t.Fatalf("statuses = %v, want only the intro start reported", h.statuses)
	}
	left, right, _ := h.engine.synth.Frequencies()
	if right-left != 6 {
		t.Fatalf("beat = %v Hz, want 6", right-left)
	}
	h.clock.Advance(time.Hour)
	if len(h.finished) != 1 || h.playbacks != 0 {
		t.Fatalf("non-recommended session should not crossfade or finish")
	}
}

func TestEngineRecommendedPathCrossfadesToAmbient(t *testing.T) {
	h := newHarness(t)
	h.loader.frames["forest_rain.mp3"] = 500
	h.engine.Start(Recommended, ScoreOf(0.1), true)
	if h.stage() != "recommended_intro" {
		t.Fatalf("stage = %s", h.stage())
	}
	h.pump(256)
	h.clock.Advance(sequencer.DefaultPause)
	if h.stage() != "category_intro" {
		t.Fatalf("stage = %s after shared intro", h.stage())
	}
	h.pump(256)
	h.clock.Advance(sequencer.DefaultPause)

	if len(h.finished) != 1 || h.finished[0] != (introFinished{"rest", ScoreOf(0.1), true}) {
		t.Fatalf("finished = %+v", h.finished)
	}
	if len(h.statuses) != 2 || h.statuses[0] != [2]bool{true, false} || h.statuses[1] != [2]bool{false, true} {
		t.Fatalf("statuses = %v", h.statuses)
	}

	h.clock.Advance(crossfade.DefaultDwell)
	st := h.engine.Status()
	if st.Stage != "crossfading" || !st.Crossfading {
		t.Fatalf("status = %+v, want crossfading", st)
	}
	if last := h.loader.loaded[len(h.loader.loaded)-1]; last != "mem://ambient/forest_rain.mp3" {
		t.Fatalf("ambient not loaded, last = %s", last)
	}

	h.clock.Advance(crossfade.DefaultDuration / 2)
	st = h.engine.Status()
	if d := st.ToneVolume + st.AmbientVolume - 1; d > 1e-9 || d < -1e-9 {
		t.Fatalf("tone %v + ambient %v != 1", st.ToneVolume, st.AmbientVolume)
	}
	h.clock.Advance(crossfade.DefaultDuration / 2)
	st = h.engine.Status()
	if st.ToneVolume != 0 || st.AmbientVolume != 1 || st.Crossfading {
		t.Fatalf("status after crossfade = %+v", st)
	}
	if h.playbacks != 0 {
		t.Fatalf("playback finished before the ambient recording ended")
	}

	h.pump(1024)
	if h.playbacks != 1 {
		t.Fatalf("playback finished %d times, want 1", h.playbacks)
	}
	if h.stage() != "idle" {
		t.Fatalf("stage = %s after playback finished", h.stage())
	}
}

func TestEngineStopIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.engine.Start(Recommended, ScoreOf(0.5), true)
	h.pump(256)
	h.engine.Stop()

	h.clock.Advance(time.Hour)
	h.pump(256)
	if h.stage() != "idle" {
		t.Fatalf("stage = %s, want idle", h.stage())
	}
	if len(h.finished) != 0 || len(h.loader.loaded) != 1 {
		t.Fatalf("stale work resumed: finished=%v loaded=%v", h.finished, h.loader.loaded)
	}
	if h.engine.synth.Running() {
		t.Fatalf("tone running after stop")
	}
	if last := h.statuses[len(h.statuses)-1]; last != [2]bool{false, false} {
		t.Fatalf("last status = %v, want (false,false)", last)
	}
	h.engine.SkipIntro()
	if h.stage() != "idle" {
		t.Fatalf("skip after stop changed stage to %s", h.stage())
	}
}

func TestEngineSkipRecommendedIntro(t *testing.T) {
	h := newHarness(t)
	h.engine.Start(Recommended, ScoreOf(0.95), true)
	h.engine.SkipIntro()
	if h.stage() != "category_intro" {
		t.Fatalf("stage = %s", h.stage())
	}
	if last := h.loader.loaded[len(h.loader.loaded)-1]; last != "mem://intros/uplift_intro.mp3" {
		t.Fatalf("loaded %s, want the uplift intro", last)
	}
	h.engine.SkipIntro()
	h.clock.Advance(sequencer.DefaultPause)
	if len(h.finished) != 1 || h.finished[0].category != "uplift" {
		t.Fatalf("finished = %+v", h.finished)
	}
}

func TestEngineAmbientCategoryPlaysRecording(t *testing.T) {
	h := newHarness(t)
	h.engine.Start("nature", Score{}, false)
	if len(h.finished) != 1 || h.finished[0].category != "nature" {
		t.Fatalf("finished = %+v, want nature immediately", h.finished)
	}
	if h.engine.synth.Running() {
		t.Fatalf("ambient category started the tone")
	}
	h.pump(256)
	if h.playbacks != 1 || h.stage() != "idle" {
		t.Fatalf("playbacks=%d stage=%s after the recording ended", h.playbacks, h.stage())
	}
}

func TestEngineIntroResolutionFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.store.fail["calm_intro.mp3"] = true
	h.engine.Start("calm", ScoreOf(0.5), false)
	h.clock.Advance(sequencer.DefaultPause)
	if len(h.finished) != 1 || !h.engine.synth.Running() {
		t.Fatalf("failed intro should fall through to the tone (finished=%v)", h.finished)
	}
	if len(h.loader.loaded) != 0 {
		t.Fatalf("loaded %v after failed resolution", h.loader.loaded)
	}
}

func TestEngineAmbientFailureKeepsTone(t *testing.T) {
	h := newHarness(t, WithDwell(time.Second))
	h.store.fail["forest_rain.mp3"] = true
	h.store.fail["recommended_intro.mp3"] = true
	h.store.fail["rest_intro.mp3"] = true
	h.engine.Start(Recommended, ScoreOf(0), true)
	h.clock.Advance(2 * sequencer.DefaultPause)
	if !h.engine.synth.Running() {
		t.Fatalf("tone not running")
	}
	h.clock.Advance(time.Second)
	st := h.engine.Status()
	if st.Stage != "main_signal" || st.Crossfading || !st.ToneRunning || st.ToneVolume != 1 {
		t.Fatalf("status = %+v, want tone kept at full volume", st)
	}
	if h.playbacks != 0 {
		t.Fatalf("playback finished on ambient failure")
	}
}

func TestEngineWithoutAudioDevice(t *testing.T) {
	h := newHarness(t, WithOutput(failingOutput{}))
	if err := h.engine.Start("calm", Score{}, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.clock.Advance(sequencer.DefaultPause)
	st := h.engine.Status()
	if st.AudioAvailable || len(h.finished) != 1 {
		t.Fatalf("status=%+v finished=%v, want silent session that still progresses", st, h.finished)
	}
}

func TestEngineInterruption(t *testing.T) {
	h := newHarness(t)
	h.engine.Start("calm", Score{}, false)
	h.engine.HandleInterruption(Interruption{Began: true})
	h.pump(256)
	h.clock.Advance(sequencer.DefaultPause)
	if len(h.finished) != 0 {
		t.Fatalf("interrupted intro kept playing")
	}

	h.engine.HandleInterruption(Interruption{Began: false, ShouldResume: true})
	h.pump(256)
	h.clock.Advance(sequencer.DefaultPause)
	if len(h.finished) != 1 {
		t.Fatalf("intro did not resume")
	}

	h.engine.HandleInterruption(Interruption{Began: true})
	if !h.engine.mixer.Paused(audio.SlotTone) || !h.engine.Status().Interrupted {
		t.Fatalf("tone not paused during interruption")
	}
	h.engine.HandleInterruption(Interruption{Began: false, ShouldResume: false})
	if !h.engine.mixer.Paused(audio.SlotTone) {
		t.Fatalf("tone resumed without permission")
	}
	h.engine.HandleInterruption(Interruption{Began: false, ShouldResume: true})
	if h.engine.mixer.Paused(audio.SlotTone) {
		t.Fatalf("tone still paused after resume")
	}
}

func TestEngineSetVolume(t *testing.T) {
	h := newHarness(t)
	h.engine.Start("nature", Score{}, false)
	h.engine.SetVolume(0.25)
	if got := h.engine.Status().ToneVolume; got != 0.25 {
		t.Fatalf("tone volume = %v, want 0.25", got)
	}
	h.engine.SetVolume(3)
	if got := h.engine.Status().ToneVolume; got != 1 {
		t.Fatalf("tone volume should clamp to 1, got %v", got)
	}
}

func TestEngineWatchAndErrors(t *testing.T) {
	h := newHarness(t)
	events := h.engine.Watch()
	if err := h.engine.Start("nope", Score{}, false); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("err = %v, want ErrUnknownCategory", err)
	}
	h.engine.Start("calm", Score{}, false)
	select {
	case ev := <-events:
		if ev.Kind != EventIntroStatusChanged || !ev.CategoryIntro || ev.SessionID == "" {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatalf("no event delivered")
	}

	if err := h.engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.engine.Start("calm", Score{}, false); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestEngineInterruptionHoldsCrossfade(t *testing.T) {
	h := newHarness(t, WithDwell(time.Second))
	h.loader.frames["forest_rain.mp3"] = 1 << 30
	h.engine.Start(Recommended, ScoreOf(0.1), true)
	h.pump(256)
	h.clock.Advance(sequencer.DefaultPause)
	h.pump(256)
	h.clock.Advance(sequencer.DefaultPause)
	if !h.engine.synth.Running() {
		t.Fatalf("tone not running after intros")
	}

	// Interruption during the dwell freezes the countdown.
	h.clock.Advance(500 * time.Millisecond)
	h.engine.HandleInterruption(Interruption{Began: true})
	h.clock.Advance(10 * time.Second)
	if h.engine.Status().Crossfading || !h.engine.fader.Armed() {
		t.Fatalf("crossfade began while interrupted")
	}
	h.engine.HandleInterruption(Interruption{Began: false, ShouldResume: true})
	h.clock.Advance(499 * time.Millisecond)
	if h.engine.Status().Crossfading {
		t.Fatalf("dwell did not keep its remaining time")
	}
	h.clock.Advance(time.Millisecond)
	if !h.engine.Status().Crossfading {
		t.Fatalf("crossfade did not begin after the remaining dwell")
	}

	// Interruption mid-fade holds the volumes.
	h.clock.Advance(5 * time.Second)
	before := h.engine.Status()
	h.engine.HandleInterruption(Interruption{Began: true})
	h.clock.Advance(crossfade.DefaultDuration)
	held := h.engine.Status()
	if !held.Crossfading || !held.ToneRunning || held.AmbientVolume != before.AmbientVolume {
		t.Fatalf("crossfade advanced while interrupted: before=%+v held=%+v", before, held)
	}
	if d := held.AmbientVolume - 1.0/3; d > 1e-9 || d < -1e-9 {
		t.Fatalf("ambient = %v, want a third of the way", held.AmbientVolume)
	}

	h.engine.HandleInterruption(Interruption{Began: false, ShouldResume: true})
	h.clock.Advance(10 * time.Second)
	st := h.engine.Status()
	if st.Crossfading || st.ToneVolume != 0 || st.AmbientVolume != 1 {
		t.Fatalf("status after resumed crossfade = %+v", st)
	}
}

func TestEngineClampsOutOfRangeScore(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Start(Recommended, ScoreOf(7), true); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.engine.SkipIntro()
	if last := h.loader.loaded[len(h.loader.loaded)-1]; last != "mem://intros/uplift_intro.mp3" {
		t.Fatalf("loaded %s, want the top band", last)
	}
	if st := h.engine.Status(); st.Category != "uplift" {
		t.Fatalf("category = %q, want uplift", st.Category)
	}
}
