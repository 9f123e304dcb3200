/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package weather

import (
	"errors"
	"strings"
	"time"
)

const (
	DefaultCondition = "多雲"
	DefaultIcon      = "🌤️"

	SourceFeed     = "CWA RSS"
	SourceFallback = "fallback"

	// unknown stands in for values the feed does not carry.
	unknown = "--"

	timeFormat = "2006-01-02 15:04:05"
)

var ErrNoForecast = errors.New("feed contains no forecast items")

// Taipei is UTC+8 with no daylight saving.
var Taipei = time.FixedZone("CST", 8*60*60)

// Icons are checked in order; the first keyword found in the condition
// wins.
var icons = []struct {
	keyword string
	icon    string
}{
	{"晴", "☀️"},
	{"多雲", "⛅"},
	{"陰", "☁️"},
	{"雨", "🌧️"},
	{"雷雨", "⛈️"},
	{"雪", "❄️"},
	{"霧", "🌫️"},
	{"晴時多雲", "🌤️"},
	{"多雲時晴", "⛅"},
	{"多雲時陰", "☁️"},
	{"陰時多雲", "☁️"},
}

// Report is what the weather widget shows.
type Report struct {
	Location    string `json:"location"`
	Weather     string `json:"weather"`
	Icon        string `json:"icon"`
	MinTemp     string `json:"min_temp,omitempty"`
	MaxTemp     string `json:"max_temp,omitempty"`
	Temperature string `json:"temperature"`
	RainChance  string `json:"rain_chance,omitempty"`
	Humidity    string `json:"humidity"`
	UpdateTime  string `json:"update_time"`
	Source      string `json:"source"`
}

func Icon(condition string) string {
	for _, i := range icons {
		if strings.Contains(condition, i.keyword) {
			return i.icon
		}
	}

	return DefaultIcon
}

func isTaipei(s string) bool {
	return strings.Contains(s, "台北") || strings.Contains(s, "臺北")
}

// Pick returns the first item about Taipei, or the first item if none
// mentions it.
func Pick(items []Item) (Item, error) {
	if len(items) == 0 {
		return Item{}, ErrNoForecast
	}

	for _, it := range items {
		if isTaipei(it.Location) || isTaipei(it.Title) {
			return it, nil
		}
	}

	return items[0], nil
}

// NewReport formats a feed item. The feed only has a forecast range, so
// the high stands in for the current temperature.
func NewReport(it Item, now time.Time) Report {
	condition := it.Condition
	if condition == "" {
		condition = DefaultCondition
	}

	location := it.Location
	if location == "" {
		location = DefaultLocation
	}

	temperature := it.MaxTemp
	if temperature == "" {
		temperature = unknown
	}

	return Report{
		Location:    location,
		Weather:     condition,
		Icon:        Icon(condition),
		MinTemp:     it.MinTemp,
		MaxTemp:     it.MaxTemp,
		Temperature: temperature,
		RainChance:  it.RainChance,
		Humidity:    unknown,
		UpdateTime:  now.In(Taipei).Format(timeFormat),
		Source:      SourceFeed,
	}
}
