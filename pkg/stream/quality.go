package stream

import "strings"

// Quality labels the vertical resolution tier of a file variant.
type Quality string

const (
	Quality360     Quality = "360"
	Quality480     Quality = "480"
	Quality720     Quality = "720"
	Quality1080    Quality = "1080"
	Quality4K      Quality = "4k"
	QualityUnknown Quality = "unknown"
)

// qualityRank orders tiers from best to worst for variant selection.
var qualityRank = []Quality{Quality4K, Quality1080, Quality720, Quality480, Quality360, QualityUnknown}

// QualityFromHeight maps a pixel height to its quality tier.
func QualityFromHeight(height int) Quality {
	switch {
	case height >= 2160:
		return Quality4K
	case height >= 1080:
		return Quality1080
	case height >= 720:
		return Quality720
	case height >= 480:
		return Quality480
	case height >= 360:
		return Quality360
	default:
		return QualityUnknown
	}
}

// ParseQuality normalises a provider-reported quality label ("1080p", "4K",
// "2160") to a tier. Unrecognised labels map to QualityUnknown.
func ParseQuality(label string) Quality {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.TrimSuffix(s, "p")
	switch s {
	case "4k", "2160", "uhd":
		return Quality4K
	case "1080", "fhd":
		return Quality1080
	case "720", "hd":
		return Quality720
	case "480", "sd":
		return Quality480
	case "360":
		return Quality360
	}
	return QualityUnknown
}

// BestVariant picks the highest-quality variant from a quality map.
// The third return is false when the map is empty.
func BestVariant(qualities map[Quality]FileVariant) (Quality, FileVariant, bool) {
	for _, q := range qualityRank {
		if v, ok := qualities[q]; ok {
			return q, v, true
		}
	}
	return QualityUnknown, FileVariant{}, false
}
