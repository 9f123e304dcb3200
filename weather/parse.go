/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package weather reads the Central Weather Administration forecast feed
// for Taipei. The feed is fetched through a list of relays, tried in
// order, and a pre-built JSON report serves as the last resort.
package weather

import (
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

const DefaultLocation = "台北市"

var ErrMalformedFeed = errors.New("malformed weather feed")

var (
	locationPattern      = regexp.MustCompile(`(.+?)(?:今|明|後|一週)`)
	temperaturePattern   = regexp.MustCompile(`溫度:\s*(\d+)\s*~\s*(\d+)`)
	conditionPattern     = regexp.MustCompile(`(?:今日白天|白天|晚上)\s*(.+?)\s*溫度`)
	descConditionPattern = regexp.MustCompile(`(?:白天|晚上)\s*(.+?)(?:\s*溫度|\s*<|$)`)
	rainPattern          = regexp.MustCompile(`降雨機率:\s*(\d+)%`)
)

// Item is one forecast entry. Fields the title lacks are filled in from
// the description; anything still missing is left empty.
type Item struct {
	Location    string `json:"location"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PubDate     string `json:"pub_date"`
	MinTemp     string `json:"min_temp"`
	MaxTemp     string `json:"max_temp"`
	Condition   string `json:"condition"`
	RainChance  string `json:"rain_chance"`
}

type rss struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

func submatch(re *regexp.Regexp, s string, n int) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}

	return strings.TrimSpace(m[n])
}

// ParseFeed extracts the forecast items from an RSS document.
func ParseFeed(data []byte) ([]Item, error) {
	var doc rss
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFeed, err)
	}

	items := make([]Item, 0, len(doc.Channel.Items))
	for _, raw := range doc.Channel.Items {
		items = append(items, parseItem(raw.Title, raw.Description, raw.PubDate))
	}

	return items, nil
}

// parseItem matches against narrowed text, so full-width colons, tildes
// and percent signs in the feed are read like their ASCII forms.
func parseItem(title, description, pubDate string) Item {
	t, d := width.Narrow.String(title), width.Narrow.String(description)

	it := Item{
		Location:    submatch(locationPattern, t, 1),
		Title:       title,
		Description: description,
		PubDate:     strings.TrimSpace(pubDate),
		MinTemp:     submatch(temperaturePattern, t, 1),
		MaxTemp:     submatch(temperaturePattern, t, 2),
		Condition:   submatch(conditionPattern, t, 1),
		RainChance:  submatch(rainPattern, t, 1),
	}

	if it.Location == "" {
		it.Location = DefaultLocation
	}

	if it.MinTemp == "" {
		it.MinTemp = submatch(temperaturePattern, d, 1)
	}
	if it.MaxTemp == "" {
		it.MaxTemp = submatch(temperaturePattern, d, 2)
	}

	if it.Condition == "" {
		it.Condition = submatch(descConditionPattern, d, 1)
	}

	if it.RainChance == "" {
		it.RainChance = submatch(rainPattern, d, 1)
	}

	return it
}
