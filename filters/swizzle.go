package filters

import "fmt"

// Component selects the source of an output channel.
type Component uint8

const (
	// ComponentIdentity reads the source channel with the same index as the output channel.
	ComponentIdentity Component = iota
	ComponentZero
	ComponentOne
	ComponentR
	ComponentG
	ComponentB
	ComponentA
)

func (c Component) String() string {
	switch c {
	case ComponentIdentity:
		return "identity"
	case ComponentZero:
		return "0"
	case ComponentOne:
		return "1"
	case ComponentR:
		return "r"
	case ComponentG:
		return "g"
	case ComponentB:
		return "b"
	case ComponentA:
		return "a"
	}
	return "unknown"
}

// Swizzle remaps source channels into output channel slots before weighting.
// The zero value is the identity mapping.
type Swizzle [4]Component

// sources resolves for every output channel the source channel index, or -1
// for constant zero and -2 for constant one.
func (s Swizzle) sources(inChannels, outChannels int) (src [4]int, err error) {
	for c := range outChannels {
		switch comp := s[c]; comp {
		case ComponentZero:
			src[c] = -1
		case ComponentOne:
			src[c] = -2
		case ComponentIdentity:
			src[c] = c
		case ComponentR, ComponentG, ComponentB, ComponentA:
			src[c] = int(comp - ComponentR)
		default:
			return src, fmt.Errorf("%w: bad component %d", ErrChannels, comp)
		}
		if src[c] >= inChannels {
			return src, fmt.Errorf("%w: output channel %d reads %v from %d channel input", ErrChannels, c, s[c], inChannels)
		}
	}
	return src, nil
}

// channelMap returns the mapping applied to each decoded source texel.
func (s Swizzle) channelMap(inChannels, outChannels int) (channelMap, error) {
	src, err := s.sources(inChannels, outChannels)
	if err != nil {
		return nil, err
	}
	return func(dst, in []float64) {
		for c := range outChannels {
			switch i := src[c]; i {
			case -1:
				dst[c] = 0
			case -2:
				dst[c] = 1
			default:
				dst[c] = in[i]
			}
		}
	}, nil
}
