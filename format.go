package texel

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"
)

// Format describes the in-memory encoding of a texel or texel block.
type Format int

const (
	formatUndefined    Format = iota // undefined
	R8Unorm                          // r8_unorm
	R8G8B8A8Unorm                    // r8g8b8a8_unorm
	R16Unorm                         // r16_unorm
	R16G16B16A16Unorm                // r16g16b16a16_unorm
	R16G16B16A16Sfloat               // r16g16b16a16_sfloat
	R32Sfloat                        // r32_sfloat
	R32G32B32A32Sfloat               // r32g32b32a32_sfloat
	R64Sfloat                        // r64_sfloat
	R64G64B64A64Sfloat               // r64g64b64a64_sfloat
	BC1RGBAUnorm                     // bc1_rgba_unorm
)

func (f Format) String() string {
	switch f {
	case R8Unorm:
		return "r8_unorm"
	case R8G8B8A8Unorm:
		return "r8g8b8a8_unorm"
	case R16Unorm:
		return "r16_unorm"
	case R16G16B16A16Unorm:
		return "r16g16b16a16_unorm"
	case R16G16B16A16Sfloat:
		return "r16g16b16a16_sfloat"
	case R32Sfloat:
		return "r32_sfloat"
	case R32G32B32A32Sfloat:
		return "r32g32b32a32_sfloat"
	case R64Sfloat:
		return "r64_sfloat"
	case R64G64B64A64Sfloat:
		return "r64g64b64a64_sfloat"
	case BC1RGBAUnorm:
		return "bc1_rgba_unorm"
	default:
		return "undefined"
	}
}

// Channels returns the number of color channels a texel of the format holds.
func (f Format) Channels() int {
	switch f {
	case R8Unorm, R16Unorm, R32Sfloat, R64Sfloat:
		return 1
	case R8G8B8A8Unorm, R16G16B16A16Unorm, R16G16B16A16Sfloat,
		R32G32B32A32Sfloat, R64G64B64A64Sfloat, BC1RGBAUnorm:
		return 4
	}
	return 0
}

// BitsPerChannel returns the storage width of a single channel.
// Compressed and undefined formats return 0.
func (f Format) BitsPerChannel() (bits int) {
	switch f {
	case R8Unorm, R8G8B8A8Unorm:
		bits = 8
	case R16Unorm, R16G16B16A16Unorm, R16G16B16A16Sfloat:
		bits = 16
	case R32Sfloat, R32G32B32A32Sfloat:
		bits = 32
	case R64Sfloat, R64G64B64A64Sfloat:
		bits = 64
	}
	return bits
}

// BitsPerPixel returns the average number of bits a single texel occupies.
func (f Format) BitsPerPixel() int {
	if f == BC1RGBAUnorm {
		return 4
	}
	return f.Channels() * f.BitsPerChannel()
}

// IsFloat reports whether channels are stored as IEEE floating point numbers.
func (f Format) IsFloat() bool {
	switch f {
	case R16G16B16A16Sfloat, R32Sfloat, R32G32B32A32Sfloat, R64Sfloat, R64G64B64A64Sfloat:
		return true
	}
	return false
}

// IsNormalized reports whether decoded channel values are confined to [0,1].
func (f Format) IsNormalized() bool {
	switch f {
	case R8Unorm, R8G8B8A8Unorm, R16Unorm, R16G16B16A16Unorm, BC1RGBAUnorm:
		return true
	}
	return false
}

// IsCompressed reports whether the format stores multi-texel blocks.
func (f Format) IsCompressed() bool { return f == BC1RGBAUnorm }

// BlockInfo returns the texel/byte conversion rule of the format.
func (f Format) BlockInfo() TexelBlockInfo {
	if f == BC1RGBAUnorm {
		return TexelBlockInfo{BlockExtent: Extent{4, 4, 1}, BlockBytes: 8}
	}
	return TexelBlockInfo{BlockExtent: Extent{1, 1, 1}, BlockBytes: f.BitsPerPixel() / 8}
}

// TexelBlockInfo describes the indivisible storage unit of a format.
// Uncompressed formats have a 1x1x1 block extent.
type TexelBlockInfo struct {
	BlockExtent Extent
	BlockBytes  int
}

// TexelsToBlocks returns the number of blocks needed to cover e along each axis.
func (info TexelBlockInfo) TexelsToBlocks(e Extent) Extent {
	return Extent{
		Width:  ceilDiv(e.Width, info.BlockExtent.Width),
		Height: ceilDiv(e.Height, info.BlockExtent.Height),
		Depth:  ceilDiv(e.Depth, info.BlockExtent.Depth),
	}
}

// ByteSize returns the number of bytes needed to tightly pack e.
func (info TexelBlockInfo) ByteSize(e Extent) int {
	return info.TexelsToBlocks(e).Volume() * info.BlockBytes
}

// IsAligned reports whether the sub-rectangle at off of size ext starts on a
// block boundary and either spans whole blocks or ends on the edge of bound.
func (info TexelBlockInfo) IsAligned(off Offset, ext, bound Extent) bool {
	for axis := 0; axis < 3; axis++ {
		b := info.BlockExtent.Axis(axis)
		if b <= 0 {
			return false
		}
		o, e := off.Axis(axis), ext.Axis(axis)
		if o%b != 0 {
			return false
		}
		if e%b != 0 && o+e != bound.Axis(axis) {
			return false
		}
	}
	return true
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// DecodeTexel decodes a single texel stored in src into dst as float64 channel values.
// Normalized formats decode to [0,1]. dst must have room for f.Channels() values.
// Compressed formats are not decoded and leave dst untouched.
func (f Format) DecodeTexel(dst []float64, src []byte) {
	switch f {
	case R8Unorm, R8G8B8A8Unorm:
		for c := range f.Channels() {
			dst[c] = float64(src[c]) / math.MaxUint8
		}
	case R16Unorm, R16G16B16A16Unorm:
		for c := range f.Channels() {
			dst[c] = float64(binary.LittleEndian.Uint16(src[2*c:])) / math.MaxUint16
		}
	case R16G16B16A16Sfloat:
		for c := range 4 {
			dst[c] = float64(float16.Frombits(binary.LittleEndian.Uint16(src[2*c:])).Float32())
		}
	case R32Sfloat, R32G32B32A32Sfloat:
		for c := range f.Channels() {
			dst[c] = float64(math.Float32frombits(binary.LittleEndian.Uint32(src[4*c:])))
		}
	case R64Sfloat, R64G64B64A64Sfloat:
		for c := range f.Channels() {
			dst[c] = math.Float64frombits(binary.LittleEndian.Uint64(src[8*c:]))
		}
	}
}

// EncodeTexel quantizes the channel values in src into dst.
// dither, if non-nil, holds per-channel offsets in units of one quantization
// step that are added before rounding; floating point formats ignore it.
// Compressed formats are not encoded and leave dst untouched.
func (f Format) EncodeTexel(dst []byte, src []float64, dither []float64) {
	switch f {
	case R8Unorm, R8G8B8A8Unorm:
		for c := range f.Channels() {
			dst[c] = uint8(quantize(src[c], math.MaxUint8, ditherAt(dither, c)))
		}
	case R16Unorm, R16G16B16A16Unorm:
		for c := range f.Channels() {
			binary.LittleEndian.PutUint16(dst[2*c:], uint16(quantize(src[c], math.MaxUint16, ditherAt(dither, c))))
		}
	case R16G16B16A16Sfloat:
		for c := range 4 {
			binary.LittleEndian.PutUint16(dst[2*c:], float16.Fromfloat32(float32(src[c])).Bits())
		}
	case R32Sfloat, R32G32B32A32Sfloat:
		for c := range f.Channels() {
			binary.LittleEndian.PutUint32(dst[4*c:], math.Float32bits(float32(src[c])))
		}
	case R64Sfloat, R64G64B64A64Sfloat:
		for c := range f.Channels() {
			binary.LittleEndian.PutUint64(dst[8*c:], math.Float64bits(src[c]))
		}
	}
}

func ditherAt(dither []float64, c int) float64 {
	if c < len(dither) {
		return dither[c]
	}
	return 0
}

// quantize maps v in [0,1] to [0,max] rounding half away from zero.
func quantize(v, max, dither float64) uint64 {
	x := math.Round(v*max + dither)
	if !(x > 0) { // Also catches NaN.
		return 0
	} else if x > max {
		return uint64(max)
	}
	return uint64(x)
}
