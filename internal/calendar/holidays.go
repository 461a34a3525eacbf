package calendar

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Holiday is a non-business day other than a weekend.
type Holiday struct {
	Date time.Time
	Name string
}

type holidayFile struct {
	Holidays []struct {
		Date string `yaml:"date"`
		Name string `yaml:"name"`
	} `yaml:"holidays"`
}

// LoadHolidays reads a YAML holiday table:
//
//	holidays:
//	  - date: 2026-01-01
//	    name: Confraternização Universal
func LoadHolidays(path string) ([]Holiday, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read holidays file: %w", err)
	}
	return ParseHolidays(data)
}

// ParseHolidays decodes a YAML holiday table.
func ParseHolidays(data []byte) ([]Holiday, error) {
	var f holidayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse holidays: %w", err)
	}
	out := make([]Holiday, 0, len(f.Holidays))
	for _, h := range f.Holidays {
		d, err := time.Parse("2006-01-02", h.Date)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h.Name, err)
		}
		out = append(out, Holiday{Date: d, Name: h.Name})
	}
	return out, nil
}
