package steps

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var videoTimeRegex = regexp.MustCompile(`\(([0-9:]+)\)`)

// DecodeDuration decodes a colon-separated duration string right to
// left: "45" is seconds, "02:15" minutes:seconds, "01:02:03"
// hours:minutes:seconds, and so on.
func DecodeDuration(text string) (int, error) {
	parts := strings.Split(text, ":")
	seconds := 0
	for i := 0; i < len(parts); i++ {
		part := parts[len(parts)-1-i]
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("failed to decode duration %q: %w", text, err)
		}
		multiplier := 1
		for j := 0; j < i; j++ {
			multiplier *= 60
		}
		seconds += n * multiplier
	}
	return seconds, nil
}

func capitalizeWords(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ParseAssetType normalizes a scraped asset-type label. Anything
// carrying the "video" token gets its parenthesized running time
// decoded into seconds; every other label (article, quiz, discussion,
// test, ...) is just capitalized with no duration.
func ParseAssetType(label string) (assetType, duration string, durationSecs int, err error) {
	label = strings.TrimSpace(label)
	if strings.Contains(strings.ToLower(label), "video") {
		groups := videoTimeRegex.FindStringSubmatch(label)
		if len(groups) < 2 {
			return "", "", 0, fmt.Errorf("video label %q carries no running time", label)
		}
		secs, err := DecodeDuration(groups[1])
		if err != nil {
			return "", "", 0, err
		}
		return "Video", groups[1], secs, nil
	}
	return capitalizeWords(label), "", -1, nil
}
