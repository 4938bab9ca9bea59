// Package release validates release identifiers and lays out dataset paths.
package release

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidRelease  = errors.New("release must be in format 'yyyy-mm-dd.x'")
	ErrInvalidRegion   = errors.New("region must be two digits (e.g. '03')")
	ErrInvalidFileName = errors.New("invalid file name")
)

const dateLayout = "2006-01-02"

var (
	releasePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.\d+$`)
	regionPattern  = regexp.MustCompile(`^\d{2}$`)
)

// Release is a dated, versioned dataset publication such as 2025-03-01.2
type Release struct {
	Date    time.Time
	Version int
}

// Parse validates and splits a release string
func Parse(s string) (Release, error) {
	if !releasePattern.MatchString(s) {
		return Release{}, fmt.Errorf("%w: %q", ErrInvalidRelease, s)
	}

	datePart, versionPart, _ := strings.Cut(s, ".")
	date, err := time.Parse(dateLayout, datePart)
	if err != nil {
		return Release{}, fmt.Errorf("%w: release date %q is not a valid date", ErrInvalidRelease, datePart)
	}
	version, err := strconv.Atoi(versionPart)
	if err != nil {
		return Release{}, fmt.Errorf("%w: release version %q is not a non-negative integer", ErrInvalidRelease, versionPart)
	}

	return Release{Date: date, Version: version}, nil
}

func (r Release) String() string {
	return fmt.Sprintf("%s.%d", r.Date.Format(dateLayout), r.Version)
}

// Next returns the release following latest when published on today. The
// version restarts at 0 on a later date and increments otherwise.
func Next(latest *Release, today time.Time) Release {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if latest == nil || day.After(latest.Date) {
		return Release{Date: day, Version: 0}
	}
	return Release{Date: day, Version: latest.Version + 1}
}

// ValidateRegion checks a two-digit administrative region code
func ValidateRegion(region string) error {
	if !regionPattern.MatchString(region) {
		return fmt.Errorf("%w: got %q", ErrInvalidRegion, region)
	}
	return nil
}
