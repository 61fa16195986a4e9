package metrics

// NoDataColor fills map regions without a bucket.
const NoDataColor = "#d9d9d9"

// TrajectoryGrey draws growth lines that are not in the current top-n.
const TrajectoryGrey = "#D5DBDB"

// Reds is the 9-class sequential palette, lightest first, so bucket 1 is
// the lowest relative incidence.
var Reds = []string{
	"#fff5f0", "#fee0d2", "#fcbba1", "#fc9272", "#fb6a4a",
	"#ef3b2c", "#cb181d", "#a50f15", "#67000d",
}

// Category10 is the categorical palette behind SeriesSlots.
var Category10 = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// ContinentColors is shared by every continent-coloured view.
var ContinentColors = map[string]string{
	"Africa":        "#003f5c",
	"Asia":          "#444e86",
	"Europe":        "#955196",
	"North America": "#dd5182",
	"Oceania":       "#ff6e54",
	"South America": "#ffa600",
}

// ContinentColor returns the colour for continent, or NoDataColor.
func ContinentColor(continent string) string {
	if c, ok := ContinentColors[continent]; ok {
		return c
	}
	return NoDataColor
}

// BucketColor maps bucket b of n to the Reds palette. Bucket 0 is no data.
func BucketColor(b, n int) string {
	if b <= 0 || n <= 0 {
		return NoDataColor
	}
	if b > n {
		b = n
	}
	if n == 1 {
		return Reds[len(Reds)-1]
	}
	return Reds[(b-1)*(len(Reds)-1)/(n-1)]
}
