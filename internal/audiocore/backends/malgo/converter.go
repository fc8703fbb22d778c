package malgo

import (
	"encoding/binary"
	"math"

	"github.com/gen2brain/malgo"
)

// GetFormatInfo returns information about a malgo format type
func GetFormatInfo(format malgo.FormatType) (bytesPerSample int, name string) {
	switch format {
	case malgo.FormatU8:
		return 1, "U8"
	case malgo.FormatS16:
		return 2, "S16"
	case malgo.FormatS24:
		return 3, "S24"
	case malgo.FormatS32:
		return 4, "S32"
	case malgo.FormatF32:
		return 4, "F32"
	default:
		return 0, "Unknown"
	}
}

// DecodeMono converts interleaved device samples to mono float32 in [-1, 1]
// by averaging channels. It decodes at most len(dst) frames and returns the
// number of frames written.
func DecodeMono(src []byte, format malgo.FormatType, channels int, dst []float32) int {
	bps, _ := GetFormatInfo(format)
	if bps == 0 || channels <= 0 {
		return 0
	}
	frameBytes := bps * channels
	frames := min(len(src)/frameBytes, len(dst))
	scale := 1 / float32(channels)

	for f := range frames {
		var sum float32
		base := f * frameBytes
		for c := range channels {
			sum += decodeSample(src[base+c*bps:], format)
		}
		dst[f] = sum * scale
	}
	return frames
}

// EncodeMono writes mono samples to every channel of an interleaved device
// buffer. Samples are clamped to [-1, 1]. It returns the number of frames written.
func EncodeMono(src []float32, format malgo.FormatType, channels int, dst []byte) int {
	bps, _ := GetFormatInfo(format)
	if bps == 0 || channels <= 0 {
		return 0
	}
	frameBytes := bps * channels
	frames := min(len(dst)/frameBytes, len(src))

	for f := range frames {
		v := max(-1, min(1, src[f]))
		base := f * frameBytes
		for c := range channels {
			encodeSample(dst[base+c*bps:], format, v)
		}
	}
	return frames
}

func decodeSample(b []byte, format malgo.FormatType) float32 {
	switch format {
	case malgo.FormatU8:
		return (float32(b[0]) - 128) / 128
	case malgo.FormatS16:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	case malgo.FormatS24:
		val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		// Sign extend if the most significant bit is set
		if val&0x800000 != 0 {
			val |= -0x1000000
		}
		return float32(val) / 8388608
	case malgo.FormatS32:
		return float32(float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648)
	case malgo.FormatF32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	default:
		return 0
	}
}

func encodeSample(b []byte, format malgo.FormatType, v float32) {
	switch format {
	case malgo.FormatU8:
		b[0] = uint8(clampInt(int64(math.Round(float64(v)*128))+128, 0, 255))
	case malgo.FormatS16:
		binary.LittleEndian.PutUint16(b, uint16(int16(clampInt(int64(math.Round(float64(v)*32768)), -32768, 32767))))
	case malgo.FormatS24:
		val := int32(clampInt(int64(math.Round(float64(v)*8388608)), -8388608, 8388607))
		b[0] = byte(val)
		b[1] = byte(val >> 8)
		b[2] = byte(val >> 16)
	case malgo.FormatS32:
		val := clampInt(int64(math.Round(float64(v)*2147483648)), math.MinInt32, math.MaxInt32)
		binary.LittleEndian.PutUint32(b, uint32(int32(val)))
	case malgo.FormatF32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	}
}

func clampInt(v, lo, hi int64) int64 {
	return max(lo, min(hi, v))
}
