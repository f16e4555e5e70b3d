package meditone

import (
	"encoding/binary"
	"math"

	"github.com/cbegin/meditone-go/internal/category"
	"github.com/cbegin/meditone-go/internal/tone"
)

// ToneParams are the tone synthesizer constants.
type ToneParams = tone.Params

func DefaultToneParams() ToneParams { return tone.DefaultParams() }

// ToneParamsFor returns the tone constants tuned for a category set.
func ToneParamsFor(set *category.Set) ToneParams { return tunedParams(set.Tuning) }

// RenderTone renders seconds of the binaural tone at beatHz, including the
// attack and, at the end, the release fade, as interleaved stereo float32.
func RenderTone(params ToneParams, sampleRate int, beatHz, seconds float64) []float32 {
	synth := tone.New(sampleRate, params)
	synth.Start(beatHz)
	frames := int(float64(sampleRate) * seconds)
	release := int(math.Ceil(params.ReleaseSec * float64(sampleRate)))
	if release > frames {
		release = frames
	}
	out := make([]float32, frames*2)
	body := (frames - release) * 2
	synth.Process(out[:body])
	synth.Stop()
	synth.Process(out[body:])
	return out
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
