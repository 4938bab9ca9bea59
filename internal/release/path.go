package release

import (
	"fmt"
	"regexp"
	"strings"
)

// ThemeBuildings is the only dataset theme
const ThemeBuildings = "buildings"

// FileExt is the extension of written partition files
const FileExt = "geojsonl.zst"

var fileNamePattern = regexp.MustCompile(`^part_\d{5,}\.` + regexp.QuoteMeta(FileExt) + `$`)

// FileName returns the name of the n-th partition file
func FileName(n int) string {
	return fmt.Sprintf("part_%05d.%s", n, FileExt)
}

// ValidateFileName checks a partition file name
func ValidateFileName(name string) error {
	if !fileNamePattern.MatchString(name) {
		return fmt.Errorf("%w %q: expected format 'part_00000.%s'", ErrInvalidFileName, name, FileExt)
	}
	return nil
}

// Validate checks every identifier of a dataset path
func Validate(release, region, fileName string) error {
	if _, err := Parse(release); err != nil {
		return err
	}
	if err := ValidateRegion(region); err != nil {
		return err
	}
	return ValidateFileName(fileName)
}

// Path returns release/{release}/[dataset={dataset}/]theme=buildings/region={region}/{fileName}.
// An empty dataset denotes the conflated output.
func Path(release, dataset, region, fileName string) (string, error) {
	if err := Validate(release, region, fileName); err != nil {
		return "", err
	}

	parts := []string{"release", release}
	if dataset != "" {
		parts = append(parts, "dataset="+dataset)
	}
	parts = append(parts, "theme="+ThemeBuildings, "region="+region, fileName)

	return strings.Join(parts, "/"), nil
}
