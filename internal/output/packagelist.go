package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pkgsentry/pkgsentry/internal/core"
)

// ListFormat is the on-disk format of a package list.
type ListFormat string

const (
	ListTSV  ListFormat = "tsv"
	ListJSON ListFormat = "json"
	ListYAML ListFormat = "yaml"
)

// PackageListHeader is the first line of a TSV package list.
const PackageListHeader = "Id\tVersion\tLicense"

// ParseListFormat validates a package list format name.
func ParseListFormat(value string) (ListFormat, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(ListTSV):
		return ListTSV, nil
	case string(ListJSON):
		return ListJSON, nil
	case string(ListYAML), "yml":
		return ListYAML, nil
	default:
		return "", fmt.Errorf("unsupported package list format: %s", value)
	}
}

// ListFormatForPath picks a format from the file extension, defaulting to TSV.
func ListFormatForPath(path string) ListFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ListJSON
	case ".yaml", ".yml":
		return ListYAML
	default:
		return ListTSV
	}
}

// SortPackages orders packages by id, then version.
func SortPackages(packages []core.Package) {
	sort.SliceStable(packages, func(i, j int) bool {
		if packages[i].ID != packages[j].ID {
			return packages[i].ID < packages[j].ID
		}
		return packages[i].Version < packages[j].Version
	})
}

// WritePackageList writes packages in the given format.
func WritePackageList(w io.Writer, format ListFormat, packages []core.Package) error {
	if packages == nil {
		packages = []core.Package{}
	}

	switch format {
	case ListJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(packages)
	case ListYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(packages); err != nil {
			return err
		}
		return enc.Close()
	case ListTSV, "":
		bw := bufio.NewWriter(w)
		if _, err := fmt.Fprintln(bw, PackageListHeader); err != nil {
			return err
		}
		for _, pkg := range packages {
			if _, err := fmt.Fprintf(bw, "%s\t%s\t%s\n", pkg.ID, pkg.Version, pkg.License); err != nil {
				return err
			}
		}
		return bw.Flush()
	default:
		return fmt.Errorf("unsupported package list format: %s", format)
	}
}

// WritePackageListFile writes the list to path, creating parent directories.
func WritePackageListFile(path string, format ListFormat, packages []core.Package) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create list directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePackageList(f, format, packages); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReadPackageList parses a package list in the given format.
// TSV lists skip the header and blank lines; the license column is optional.
func ReadPackageList(r io.Reader, format ListFormat) ([]core.Package, error) {
	switch format {
	case ListJSON:
		var packages []core.Package
		if err := json.NewDecoder(r).Decode(&packages); err != nil {
			return nil, fmt.Errorf("decode package list: %w", err)
		}
		return validatePackages(packages)
	case ListYAML:
		var packages []core.Package
		if err := yaml.NewDecoder(r).Decode(&packages); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode package list: %w", err)
		}
		return validatePackages(packages)
	case ListTSV, "":
		return readTSV(r)
	default:
		return nil, fmt.Errorf("unsupported package list format: %s", format)
	}
}

// ReadPackageListFile reads a list, choosing the format from the extension.
func ReadPackageListFile(path string) ([]core.Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint:errcheck // read-only handle

	packages, err := ReadPackageList(f, ListFormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return packages, nil
}

func readTSV(r io.Reader) ([]core.Package, error) {
	scanner := bufio.NewScanner(r)
	var packages []core.Package
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(strings.SplitN(raw, "\t", 2)[0]), "id") {
			continue
		}

		fields := strings.Split(raw, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected id and version separated by a tab", line)
		}
		pkg := core.Package{
			ID:      strings.TrimSpace(fields[0]),
			Version: strings.TrimSpace(fields[1]),
		}
		if len(fields) > 2 {
			pkg.License = strings.TrimSpace(fields[2])
		}
		if pkg.ID == "" || pkg.Version == "" {
			return nil, fmt.Errorf("line %d: id and version are required", line)
		}
		packages = append(packages, pkg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return packages, nil
}

func validatePackages(packages []core.Package) ([]core.Package, error) {
	for i, pkg := range packages {
		if strings.TrimSpace(pkg.ID) == "" || strings.TrimSpace(pkg.Version) == "" {
			return nil, fmt.Errorf("entry %d: id and version are required", i+1)
		}
	}
	return packages, nil
}
