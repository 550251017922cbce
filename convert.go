package texel

import (
	"errors"
	"image"
	"image/color"
	"math"
)

// FromImage copies src into a new single mip, single layer image of format f.
// Single channel formats receive the luminance of src.
func FromImage(src image.Image, f Format) (*Image, error) {
	if f.IsCompressed() {
		return nil, errors.New("cannot encode compressed format")
	}
	b := src.Bounds()
	dst, err := NewPackedImage(CreateParams{
		Format:      f,
		Extent:      Extent{b.Dx(), b.Dy(), 1},
		ArrayLayers: 1,
		MipLevels:   1,
	})
	if err != nil {
		return nil, err
	}
	r := dst.regions[0]
	s := r.ByteStrides(dst.info)
	var texel [4]float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := src.At(x, y)
			if f.Channels() == 1 {
				g := color.Gray16Model.Convert(c).(color.Gray16)
				texel[0] = float64(g.Y) / math.MaxUint16
			} else {
				n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
				texel = [4]float64{
					float64(n.R) / math.MaxUint16,
					float64(n.G) / math.MaxUint16,
					float64(n.B) / math.MaxUint16,
					float64(n.A) / math.MaxUint16,
				}
			}
			off := r.ByteOffset(Offset{X: x - b.Min.X, Y: y - b.Min.Y}, 0, s)
			f.EncodeTexel(dst.buf[off:off+s.Texel], texel[:], nil)
		}
	}
	return dst, nil
}

// ToNRGBA64 converts the first depth slice of layer at mip level to an
// [image.NRGBA64], multiplying every channel by scale and clamping to [0,1].
// Single channel images are expanded to opaque gray. Texels not covered by
// any region are left transparent black.
func (img *Image) ToNRGBA64(mip, layer int, scale float64) (*image.NRGBA64, error) {
	if img.params.Format.IsCompressed() {
		return nil, errors.New("cannot decode compressed format")
	} else if mip < 0 || mip >= img.params.MipLevels {
		return nil, errors.New("mip level out of range")
	} else if layer < 0 || layer >= img.params.ArrayLayers {
		return nil, errors.New("layer out of range")
	}
	ext := img.MipExtent(mip)
	dst := image.NewNRGBA64(image.Rect(0, 0, ext.Width, ext.Height))
	single := img.params.Format.Channels() == 1
	var texel [4]float64
	for y := range ext.Height {
		for x := range ext.Width {
			if !img.Texel(mip, layer, Offset{X: x, Y: y}, texel[:]) {
				continue
			}
			if single {
				texel = [4]float64{texel[0], texel[0], texel[0], 1 / scale}
			}
			dst.SetNRGBA64(x, y, color.NRGBA64{
				R: unit16(texel[0] * scale),
				G: unit16(texel[1] * scale),
				B: unit16(texel[2] * scale),
				A: unit16(texel[3] * scale),
			})
		}
	}
	return dst, nil
}

func unit16(v float64) uint16 {
	return uint16(quantize(v, math.MaxUint16, 0))
}
