package routing

import (
	"errors"
	"math"
	"strings"

	"github.com/castrilha/castrilha"
)

var errTruncatedPolyline = errors.New("polyline: truncated input")

// Decode decodes an encoded polyline with the given precision (5 for
// Google, 6 for Valhalla).
func Decode(encoded string, precision int) ([]castrilha.LatLng, error) {
	factor := math.Pow10(precision)
	var points []castrilha.LatLng
	index, lat, lng := 0, 0, 0

	for index < len(encoded) {
		dlat, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}
		dlng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		index = next
		lat += dlat
		lng += dlng
		points = append(points, castrilha.LatLng{
			Lat: float64(lat) / factor,
			Lng: float64(lng) / factor,
		})
	}
	return points, nil
}

func decodeValue(s string, index int) (int, int, error) {
	shift, result := 0, 0
	for {
		if index >= len(s) {
			return 0, index, errTruncatedPolyline
		}
		b := int(s[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), index, nil
	}
	return result >> 1, index, nil
}

// Encode encodes points with the given precision.
func Encode(points []castrilha.LatLng, precision int) string {
	factor := math.Pow10(precision)
	var b strings.Builder
	prevLat, prevLng := 0, 0
	for _, p := range points {
		lat := int(math.Round(p.Lat * factor))
		lng := int(math.Round(p.Lng * factor))
		encodeValue(&b, lat-prevLat)
		encodeValue(&b, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return b.String()
}

func encodeValue(b *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		b.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	b.WriteByte(byte(u + 63))
}
