// Package texel describes multi-layer, multi-mip texel buffers whose texels are
// addressed through regions, along with the formats they are encoded in.
package texel

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
)

var (
	ErrImageParams   = errors.New("invalid image parameters")
	ErrRegion        = errors.New("invalid region")
	ErrRegionOverlap = errors.New("regions claim overlapping bytes")
)

// Extent is the size of a 3D texel box. Images that are not volumetric have Depth 1.
type Extent struct {
	Width  int
	Height int
	Depth  int
}

// Axis returns the extent along axis 0 (X), 1 (Y) or 2 (Z).
func (e Extent) Axis(axis int) int {
	switch axis {
	case 0:
		return e.Width
	case 1:
		return e.Height
	case 2:
		return e.Depth
	}
	panic("bad axis")
}

// SetAxis returns e with the extent along axis replaced by v.
func (e Extent) SetAxis(axis, v int) Extent {
	switch axis {
	case 0:
		e.Width = v
	case 1:
		e.Height = v
	case 2:
		e.Depth = v
	default:
		panic("bad axis")
	}
	return e
}

// Volume returns the number of texels in the extent.
func (e Extent) Volume() int {
	if e.Empty() {
		return 0
	}
	return e.Width * e.Height * e.Depth
}

// Empty reports whether any axis of e has no texels.
func (e Extent) Empty() bool { return e.Width <= 0 || e.Height <= 0 || e.Depth <= 0 }

// Offset is a texel coordinate.
type Offset struct {
	X, Y, Z int
}

// Axis returns the coordinate along axis 0 (X), 1 (Y) or 2 (Z).
func (o Offset) Axis(axis int) int {
	switch axis {
	case 0:
		return o.X
	case 1:
		return o.Y
	case 2:
		return o.Z
	}
	panic("bad axis")
}

func (o Offset) Add(p Offset) Offset { return Offset{o.X + p.X, o.Y + p.Y, o.Z + p.Z} }
func (o Offset) Sub(p Offset) Offset { return Offset{o.X - p.X, o.Y - p.Y, o.Z - p.Z} }

// Max returns the exclusive upper corner of the box at o with extent e.
func (o Offset) Max(e Extent) Offset { return Offset{o.X + e.Width, o.Y + e.Height, o.Z + e.Depth} }

// In reports whether o lies in the box at off with extent e.
func (o Offset) In(off Offset, e Extent) bool {
	return o.X >= off.X && o.Y >= off.Y && o.Z >= off.Z &&
		o.X < off.X+e.Width && o.Y < off.Y+e.Height && o.Z < off.Z+e.Depth
}

// Intersect returns the overlap of boxes a and b. ok is false if they do not overlap.
func Intersect(aOff Offset, aExt Extent, bOff Offset, bExt Extent) (off Offset, ext Extent, ok bool) {
	aMax, bMax := aOff.Max(aExt), bOff.Max(bExt)
	off = Offset{max(aOff.X, bOff.X), max(aOff.Y, bOff.Y), max(aOff.Z, bOff.Z)}
	ext = Extent{
		Width:  min(aMax.X, bMax.X) - off.X,
		Height: min(aMax.Y, bMax.Y) - off.Y,
		Depth:  min(aMax.Z, bMax.Z) - off.Z,
	}
	return off, ext, !ext.Empty()
}

// Region describes how one sub-box of a mip level, for a range of array layers,
// is laid out in an [Image] buffer.
type Region struct {
	MipLevel   int
	BaseLayer  int
	LayerCount int
	// BufferOffset is the byte offset of the texel at ImageOffset in the first layer.
	BufferOffset int
	// BufferRowLength is the number of texels between row starts. 0 means ImageExtent.Width.
	BufferRowLength int
	// BufferImageHeight is the number of rows between slice starts. 0 means ImageExtent.Height.
	BufferImageHeight int
	ImageOffset       Offset
	ImageExtent       Extent
}

// Strides are the byte distances between consecutive blocks along each
// dimension of a [Region].
type Strides struct {
	Block Extent
	Texel int
	Row   int
	Slice int
	Layer int
}

// ByteStrides returns the strides of the region for the given block layout.
func (r Region) ByteStrides(info TexelBlockInfo) Strides {
	rowLength := r.BufferRowLength
	if rowLength == 0 {
		rowLength = r.ImageExtent.Width
	}
	imageHeight := r.BufferImageHeight
	if imageHeight == 0 {
		imageHeight = r.ImageExtent.Height
	}
	blocks := info.TexelsToBlocks(Extent{rowLength, imageHeight, r.ImageExtent.Depth})
	s := Strides{Block: info.BlockExtent, Texel: info.BlockBytes}
	s.Row = blocks.Width * s.Texel
	s.Slice = blocks.Height * s.Row
	s.Layer = blocks.Depth * s.Slice
	return s
}

// ByteOffset returns the buffer offset of the block containing image texel p of the given layer.
// p and layer are assumed to be inside the region.
func (r Region) ByteOffset(p Offset, layer int, s Strides) int {
	local := p.Sub(r.ImageOffset)
	return r.BufferOffset + (layer-r.BaseLayer)*s.Layer +
		local.Z/s.Block.Depth*s.Slice +
		local.Y/s.Block.Height*s.Row +
		local.X/s.Block.Width*s.Texel
}

// ByteSize returns the number of bytes spanned by the region starting at BufferOffset.
func (r Region) ByteSize(info TexelBlockInfo) int {
	if r.ImageExtent.Empty() || r.LayerCount <= 0 {
		return 0
	}
	s := r.ByteStrides(info)
	b := info.TexelsToBlocks(r.ImageExtent)
	return (r.LayerCount-1)*s.Layer + (b.Depth-1)*s.Slice + (b.Height-1)*s.Row + b.Width*s.Texel
}

// Contains reports whether texel p of layer at mip level is addressed by the region.
func (r Region) Contains(mip, layer int, p Offset) bool {
	return r.MipLevel == mip && layer >= r.BaseLayer && layer < r.BaseLayer+r.LayerCount &&
		p.In(r.ImageOffset, r.ImageExtent)
}

// CreateParams are the immutable properties of an [Image].
type CreateParams struct {
	Format      Format
	Extent      Extent
	ArrayLayers int
	MipLevels   int
	// AllowOverlappingRegions disables the check that regions of the same mip
	// level and layers claim disjoint bytes.
	AllowOverlappingRegions bool
}

// Validate checks the parameters are self consistent.
func (p CreateParams) Validate() error {
	if p.Format.BlockInfo().BlockBytes <= 0 {
		return fmt.Errorf("%w: bad format %v", ErrImageParams, p.Format)
	} else if p.Extent.Empty() {
		return fmt.Errorf("%w: empty extent", ErrImageParams)
	} else if p.ArrayLayers <= 0 {
		return fmt.Errorf("%w: need at least one array layer", ErrImageParams)
	} else if p.MipLevels <= 0 || p.MipLevels > MaxMipLevels(p.Extent) {
		return fmt.Errorf("%w: mip level count %d out of range", ErrImageParams, p.MipLevels)
	}
	return nil
}

// MaxMipLevels returns the length of the full mip chain of an image of extent e.
func MaxMipLevels(e Extent) int {
	return bits.Len(uint(max(e.Width, e.Height, e.Depth, 1)))
}

// MipExtent returns the extent of mip level of an image whose level 0 has extent e.
func MipExtent(e Extent, level int) Extent {
	return Extent{
		Width:  max(e.Width>>level, 1),
		Height: max(e.Height>>level, 1),
		Depth:  max(e.Depth>>level, 1),
	}
}

// Image is an owned texel buffer together with the regions describing how
// texels of each mip level and array layer map into it.
type Image struct {
	params  CreateParams
	info    TexelBlockInfo
	regions []Region
	buf     []byte
}

var _ io.ReaderAt = (*Image)(nil)

// NewImage validates regions against buf and params and returns an image owning both.
func NewImage(params CreateParams, buf []byte, regions []Region) (*Image, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	img := &Image{
		params:  params,
		info:    params.Format.BlockInfo(),
		regions: append([]Region(nil), regions...),
		buf:     buf,
	}
	for i, r := range img.regions {
		if err := img.validateRegion(r); err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
	}
	if !params.AllowOverlappingRegions {
		if err := img.checkOverlap(); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// NewPackedImage allocates a buffer tightly packing every mip level and array
// layer of params, with one region per mip level.
func NewPackedImage(params CreateParams) (*Image, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	info := params.Format.BlockInfo()
	regions := make([]Region, params.MipLevels)
	size := 0
	for level := range regions {
		ext := MipExtent(params.Extent, level)
		regions[level] = Region{
			MipLevel:     level,
			LayerCount:   params.ArrayLayers,
			BufferOffset: size,
			ImageExtent:  ext,
		}
		size += info.ByteSize(ext) * params.ArrayLayers
	}
	return NewImage(params, make([]byte, size), regions)
}

func (img *Image) validateRegion(r Region) error {
	p := img.params
	switch {
	case r.MipLevel < 0 || r.MipLevel >= p.MipLevels:
		return fmt.Errorf("%w: mip level %d out of range", ErrRegion, r.MipLevel)
	case r.BaseLayer < 0 || r.LayerCount <= 0 || r.BaseLayer+r.LayerCount > p.ArrayLayers:
		return fmt.Errorf("%w: layers [%d,%d) out of range", ErrRegion, r.BaseLayer, r.BaseLayer+r.LayerCount)
	case r.ImageExtent.Empty():
		return fmt.Errorf("%w: empty extent", ErrRegion)
	case r.ImageOffset.X < 0 || r.ImageOffset.Y < 0 || r.ImageOffset.Z < 0:
		return fmt.Errorf("%w: negative image offset", ErrRegion)
	case r.BufferRowLength != 0 && r.BufferRowLength < r.ImageExtent.Width:
		return fmt.Errorf("%w: row length %d shorter than extent", ErrRegion, r.BufferRowLength)
	case r.BufferImageHeight != 0 && r.BufferImageHeight < r.ImageExtent.Height:
		return fmt.Errorf("%w: image height %d shorter than extent", ErrRegion, r.BufferImageHeight)
	case r.BufferOffset < 0:
		return fmt.Errorf("%w: negative buffer offset", ErrRegion)
	}
	mipExt := img.MipExtent(r.MipLevel)
	end := r.ImageOffset.Max(r.ImageExtent)
	if end.X > mipExt.Width || end.Y > mipExt.Height || end.Z > mipExt.Depth {
		return fmt.Errorf("%w: exceeds mip %d extent %v", ErrRegion, r.MipLevel, mipExt)
	}
	if !img.info.IsAligned(r.ImageOffset, r.ImageExtent, mipExt) {
		return fmt.Errorf("%w: not aligned to %v blocks", ErrRegion, img.info.BlockExtent)
	}
	if r.BufferOffset+r.ByteSize(img.info) > len(img.buf) {
		return fmt.Errorf("%w: byte range exceeds buffer of %d bytes", ErrRegion, len(img.buf))
	}
	return nil
}

func (img *Image) checkOverlap() error {
	for i, a := range img.regions {
		aEnd := a.BufferOffset + a.ByteSize(img.info)
		for j := i + 1; j < len(img.regions); j++ {
			b := img.regions[j]
			if a.MipLevel != b.MipLevel ||
				a.BaseLayer >= b.BaseLayer+b.LayerCount || b.BaseLayer >= a.BaseLayer+a.LayerCount {
				continue
			}
			bEnd := b.BufferOffset + b.ByteSize(img.info)
			if a.BufferOffset < bEnd && b.BufferOffset < aEnd {
				return fmt.Errorf("%w: regions %d and %d", ErrRegionOverlap, i, j)
			}
		}
	}
	return nil
}

// Params returns the creation parameters of the image.
func (img *Image) Params() CreateParams { return img.params }

// Format returns the texel format of the image.
func (img *Image) Format() Format { return img.params.Format }

// BlockInfo returns the block layout of the image format.
func (img *Image) BlockInfo() TexelBlockInfo { return img.info }

// MipExtent returns the extent of the given mip level.
func (img *Image) MipExtent(level int) Extent { return MipExtent(img.params.Extent, level) }

// Regions returns a copy of the image's regions.
func (img *Image) Regions() []Region { return append([]Region(nil), img.regions...) }

// NumRegions returns the number of regions of the image.
func (img *Image) NumRegions() int { return len(img.regions) }

// Region returns the i'th region of the image.
func (img *Image) Region(i int) Region { return img.regions[i] }

// RegionsAt returns the indices of regions describing the given mip level, in order.
func (img *Image) RegionsAt(mip int) []int {
	var idx []int
	for i := range img.regions {
		if img.regions[i].MipLevel == mip {
			idx = append(idx, i)
		}
	}
	return idx
}

// Buffer returns the underlying byte buffer of the image. Writes to it are visible to the image.
func (img *Image) Buffer() []byte { return img.buf }

// ReadAt implements [io.ReaderAt] over the image buffer.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	} else if off >= int64(len(img.buf)) {
		return 0, io.EOF
	}
	n := copy(p, img.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WithRegions returns a new image sharing the buffer and parameters of img
// with a different set of regions.
func (img *Image) WithRegions(params CreateParams, regions []Region) (*Image, error) {
	return NewImage(params, img.buf, regions)
}

// Clone returns a deep copy of the image.
func (img *Image) Clone() *Image {
	return &Image{
		params:  img.params,
		info:    img.info,
		regions: append([]Region(nil), img.regions...),
		buf:     append([]byte(nil), img.buf...),
	}
}

// Texel decodes texel p of layer at mip level into dst.
// When more than one region addresses the texel the last one in order is read.
// It returns false if no region covers the texel or the format is compressed.
func (img *Image) Texel(mip, layer int, p Offset, dst []float64) bool {
	if img.info.BlockExtent != (Extent{1, 1, 1}) {
		return false
	}
	for i := len(img.regions) - 1; i >= 0; i-- {
		r := img.regions[i]
		if !r.Contains(mip, layer, p) {
			continue
		}
		off := r.ByteOffset(p, layer, r.ByteStrides(img.info))
		img.params.Format.DecodeTexel(dst, img.buf[off:off+img.info.BlockBytes])
		return true
	}
	return false
}

// SetTexel encodes src into texel p of layer at mip level in every region addressing it.
// It returns false if no region covers the texel or the format is compressed.
func (img *Image) SetTexel(mip, layer int, p Offset, src []float64) bool {
	if img.info.BlockExtent != (Extent{1, 1, 1}) {
		return false
	}
	found := false
	for _, r := range img.regions {
		if !r.Contains(mip, layer, p) {
			continue
		}
		off := r.ByteOffset(p, layer, r.ByteStrides(img.info))
		img.params.Format.EncodeTexel(img.buf[off:off+img.info.BlockBytes], src, nil)
		found = true
	}
	return found
}
