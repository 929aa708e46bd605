package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"futurebuild/internal/services"
)

// FindingKind classifies one manifest/lockfile disagreement.
type FindingKind string

const (
	// FindingMissing marks a declared package the lockfile cannot resolve.
	FindingMissing FindingKind = "missing"
	// FindingRangeChanged marks a manifest range that differs from the one recorded in the lock.
	FindingRangeChanged FindingKind = "range-changed"
	// FindingUnsatisfied marks a locked version outside the manifest range.
	FindingUnsatisfied FindingKind = "unsatisfied"
	// FindingExtraneous marks a root lock dependency the manifest no longer declares.
	FindingExtraneous FindingKind = "extraneous"
)

// Finding describes one package whose manifest and lockfile entries disagree.
type Finding struct {
	Kind     FindingKind
	Name     string
	Declared string
	Locked   string
}

func (f Finding) String() string {
	switch f.Kind {
	case FindingMissing:
		return fmt.Sprintf("%s@%s is not in the lockfile", f.Name, f.Declared)
	case FindingRangeChanged:
		return fmt.Sprintf("%s: manifest wants %s, lockfile recorded %s", f.Name, f.Declared, f.Locked)
	case FindingUnsatisfied:
		return fmt.Sprintf("%s: locked %s does not satisfy %s", f.Name, f.Locked, f.Declared)
	case FindingExtraneous:
		return fmt.Sprintf("%s@%s is locked but not declared", f.Name, f.Locked)
	default:
		return f.Name
	}
}

// Report summarizes a consistency check.
type Report struct {
	Manifest        string
	Lockfile        string
	LockfileVersion int
	Checked         int
	Findings        []Finding
}

// Consistent reports whether the check found no disagreements.
func (r Report) Consistent() bool { return len(r.Findings) == 0 }

// Err converts the findings into a classified error, or nil when consistent.
// Range and version disagreements take precedence over missing packages.
func (r Report) Err(stage string) error {
	if r.Consistent() {
		return nil
	}
	marker := services.ErrMissingDependency
	for _, f := range r.Findings {
		if f.Kind != FindingMissing {
			marker = services.ErrLockfileMismatch
			break
		}
	}
	details := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		details = append(details, f.String())
	}
	return services.Wrap(marker, stage, "check lockfile",
		fmt.Sprintf("%s and %s disagree: %s", filepath.Base(r.Manifest), filepath.Base(r.Lockfile), strings.Join(details, "; ")),
		nil)
}

type packageManifest struct {
	Name                 string            `json:"name"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
}

func (m packageManifest) declared() map[string]string {
	out := make(map[string]string, len(m.Dependencies)+len(m.DevDependencies)+len(m.OptionalDependencies))
	// npm lets optionalDependencies override dependencies of the same name
	for _, set := range []map[string]string{m.DevDependencies, m.Dependencies, m.OptionalDependencies} {
		for name, spec := range set {
			out[name] = strings.TrimSpace(spec)
		}
	}
	return out
}

type lockPackage struct {
	Version              string            `json:"version"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	Link                 bool              `json:"link"`
}

type lockDependency struct {
	Version string `json:"version"`
}

type packageLock struct {
	LockfileVersion int                       `json:"lockfileVersion"`
	Packages        map[string]lockPackage    `json:"packages"`
	Dependencies    map[string]lockDependency `json:"dependencies"`
}

// CheckNPM verifies that every dependency declared in dir/manifest is pinned
// by dir/lockfile at a version satisfying its declared range. The returned
// error is non-nil only when either file cannot be read or parsed; callers use
// Report.Err to turn findings into a stage failure.
func CheckNPM(dir, manifest, lockfile string) (Report, error) {
	report := Report{
		Manifest: filepath.Join(dir, manifest),
		Lockfile: filepath.Join(dir, lockfile),
	}

	var pkg packageManifest
	if err := readJSON(report.Manifest, &pkg); err != nil {
		return report, err
	}
	var lock packageLock
	if err := readJSON(report.Lockfile, &lock); err != nil {
		return report, err
	}
	report.LockfileVersion = lock.LockfileVersion

	declared := pkg.declared()
	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)

	root, hasRoot := lock.Packages[""]
	var rootDeclared map[string]string
	if hasRoot {
		rootDeclared = packageManifest{
			Dependencies:         root.Dependencies,
			DevDependencies:      root.DevDependencies,
			OptionalDependencies: root.OptionalDependencies,
		}.declared()
	}

	for _, name := range names {
		spec := declared[name]
		report.Checked++

		if hasRoot {
			recorded, ok := rootDeclared[name]
			if !ok {
				report.Findings = append(report.Findings, Finding{Kind: FindingMissing, Name: name, Declared: spec})
				continue
			}
			if recorded != spec {
				report.Findings = append(report.Findings, Finding{Kind: FindingRangeChanged, Name: name, Declared: spec, Locked: recorded})
				continue
			}
		}

		version, ok := lock.resolved(name)
		if !ok {
			report.Findings = append(report.Findings, Finding{Kind: FindingMissing, Name: name, Declared: spec})
			continue
		}
		if satisfied, checkable := satisfies(spec, version); checkable && !satisfied {
			report.Findings = append(report.Findings, Finding{Kind: FindingUnsatisfied, Name: name, Declared: spec, Locked: version})
		}
	}

	if hasRoot {
		extra := make([]string, 0)
		for name := range rootDeclared {
			if _, ok := declared[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		for _, name := range extra {
			report.Findings = append(report.Findings, Finding{Kind: FindingExtraneous, Name: name, Locked: rootDeclared[name]})
		}
	}

	return report, nil
}

// resolved returns the version the lockfile pins for a top-level package.
func (l packageLock) resolved(name string) (string, bool) {
	if len(l.Packages) > 0 {
		entry, ok := l.Packages["node_modules/"+name]
		if !ok {
			return "", false
		}
		if entry.Link {
			return "", true
		}
		return entry.Version, true
	}
	entry, ok := l.Dependencies[name]
	if !ok {
		return "", false
	}
	return entry.Version, true
}

// satisfies checks a locked version against an npm range. checkable is false
// for specs that are not semver ranges (tags, git and file references) and for
// versions recorded as URLs or links.
func satisfies(spec, version string) (ok bool, checkable bool) {
	spec = strings.TrimSpace(spec)
	if rest, found := strings.CutPrefix(spec, "npm:"); found {
		// aliases: npm:real-name@range
		if at := strings.LastIndex(rest, "@"); at > 0 {
			spec = rest[at+1:]
		} else {
			return false, false
		}
	}
	if spec == "" || spec == "latest" || strings.Contains(spec, ":") || strings.Contains(spec, "/") {
		return false, false
	}
	constraint, err := semver.NewConstraint(spec)
	if err != nil {
		return false, false
	}
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return false, false
	}
	return constraint.Check(v), true
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
