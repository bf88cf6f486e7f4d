package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Transport encodings
const (
	EncodingLinear16 = "linear16"
	EncodingMulaw    = "mulaw"
)

// Encoder turns capture frames (linear16 mono at the capture rate) into the
// encoding declared to the transcription backend. What the listener hears is
// never routed through it.
type Encoder struct {
	encoding string
	inRate   int
	outRate  int
}

// NewEncoder creates an encoder from captureRate to the transport format
func NewEncoder(encoding string, captureRate, transportRate int) (*Encoder, error) {
	switch encoding {
	case EncodingLinear16, EncodingMulaw:
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	if captureRate <= 0 || transportRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive")
	}
	return &Encoder{
		encoding: encoding,
		inRate:   captureRate,
		outRate:  transportRate,
	}, nil
}

// Encoding returns the transport encoding name
func (e *Encoder) Encoding() string {
	return e.encoding
}

// SampleRate returns the transport sample rate
func (e *Encoder) SampleRate() int {
	return e.outRate
}

// Encode converts one capture frame
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	if e.encoding == EncodingMulaw {
		return ConvertPCMToPCMU(pcm, e.inRate, e.outRate)
	}
	if e.inRate == e.outRate {
		return pcm, nil
	}
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	return SamplesToBytes(resample(samples, e.inRate, e.outRate)), nil
}

// BytesToSamples decodes little-endian 16-bit PCM
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}
	return pcm
}

// ConvertPCMToPCMU converts linear PCM audio to G.711 PCMU (μ-law) format,
// resampling first when the rates differ
func ConvertPCMToPCMU(pcmData []byte, inputSampleRate, outputSampleRate int) ([]byte, error) {
	if len(pcmData) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}

	samples, err := BytesToSamples(pcmData)
	if err != nil {
		return nil, err
	}

	if inputSampleRate != outputSampleRate {
		samples = resample(samples, inputSampleRate, outputSampleRate)
	}

	pcmuData := make([]byte, len(samples))
	for i, sample := range samples {
		pcmuData[i] = linearToMulaw(sample)
	}

	return pcmuData, nil
}

// resample performs linear interpolation resampling
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// linearToMulaw converts a 16-bit linear PCM sample to 8-bit μ-law (ITU-T G.711)
func linearToMulaw(sample int16) byte {
	const (
		clip = 8159 // 14-bit magnitude ceiling
		bias = 0x21
	)

	var sign byte
	magnitude := int32(sample) >> 2 // G.711 works on 14-bit samples
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > clip {
		magnitude = clip
	}
	magnitude += bias

	// Segment is the position of the highest set bit above bit 5
	var segment byte
	for temp := magnitude >> 6; temp > 0 && segment < 7; temp >>= 1 {
		segment++
	}

	mantissa := byte((magnitude >> (segment + 1)) & 0x0F)
	return ^(sign | (segment << 4) | mantissa)
}

// mulawToLinear converts an 8-bit μ-law sample back to 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	magnitude := (mantissa<<(segment+1) + int32(33)<<segment) - 33

	if sign != 0 {
		return int16(-magnitude << 2)
	}
	return int16(magnitude << 2)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
