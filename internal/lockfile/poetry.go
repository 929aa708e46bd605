package lockfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/pelletier/go-toml/v2"

	"futurebuild/internal/services"
)

// PoetryReport describes how poetry.lock relates to pyproject.toml.
type PoetryReport struct {
	Manifest     string
	Lockfile     string
	LockedHash   string
	ExpectedHash string
	Packages     int
	Missing      []string
}

// Stale reports whether the lockfile was generated from a different manifest.
func (r PoetryReport) Stale() bool {
	return r.LockedHash != "" && r.LockedHash != r.ExpectedHash
}

// Consistent reports whether the lock matches the manifest and pins every declared package.
func (r PoetryReport) Consistent() bool {
	return !r.Stale() && len(r.Missing) == 0
}

// Err converts the report into a classified error, or nil when consistent.
func (r PoetryReport) Err(stage string) error {
	if r.Stale() {
		return services.Wrap(services.ErrLockfileMismatch, stage, "check lockfile",
			fmt.Sprintf("%s content-hash %s does not match %s (%s)",
				filepath.Base(r.Lockfile), shortHash(r.LockedHash), filepath.Base(r.Manifest), shortHash(r.ExpectedHash)),
			nil)
	}
	if len(r.Missing) > 0 {
		return services.Wrap(services.ErrMissingDependency, stage, "check lockfile",
			fmt.Sprintf("%s does not pin %s", filepath.Base(r.Lockfile), strings.Join(r.Missing, ", ")),
			nil)
	}
	return nil
}

type poetryLock struct {
	Package []struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"package"`
	Metadata struct {
		ContentHash string `toml:"content-hash"`
	} `toml:"metadata"`
}

var (
	poetryLegacyKeys   = []string{"dependencies", "source", "extras", "dev-dependencies"}
	poetryRelevantKeys = append(append([]string{}, poetryLegacyKeys...), "group")
	projectKeys        = []string{"requires-python", "dependencies", "optional-dependencies"}
	pep503Separators   = regexp.MustCompile(`[-_.]+`)
	pep508Name         = regexp.MustCompile(`^\s*([A-Za-z0-9][A-Za-z0-9._-]*)`)
)

// CheckPoetry recomputes the content hash poetry records in poetry.lock and
// lists dependencies declared in pyproject.toml that the lock does not pin.
func CheckPoetry(dir, manifest, lockfile string) (PoetryReport, error) {
	report := PoetryReport{
		Manifest: filepath.Join(dir, manifest),
		Lockfile: filepath.Join(dir, lockfile),
	}

	var project map[string]any
	if err := readTOML(report.Manifest, &project); err != nil {
		return report, err
	}
	var lock poetryLock
	if err := readTOML(report.Lockfile, &lock); err != nil {
		return report, err
	}
	report.LockedHash = strings.TrimSpace(lock.Metadata.ContentHash)
	report.Packages = len(lock.Package)

	hash, err := poetryContentHash(project)
	if err != nil {
		return report, err
	}
	report.ExpectedHash = hash

	locked := make(map[string]struct{}, len(lock.Package))
	for _, p := range lock.Package {
		locked[normalizeName(p.Name)] = struct{}{}
	}
	for _, name := range declaredPythonDeps(project) {
		if _, ok := locked[normalizeName(name)]; !ok {
			report.Missing = append(report.Missing, name)
		}
	}
	sort.Strings(report.Missing)
	return report, nil
}

// poetryContentHash reproduces poetry's hash: sha256 over the relevant
// manifest sections serialized the way Python's json.dumps(sort_keys=True) does.
func poetryContentHash(project map[string]any) (string, error) {
	poetrySection := lookupTable(project, "tool", "poetry")
	projectSection := lookupTable(project, "project")

	relevantProject := map[string]any{}
	for _, key := range projectKeys {
		if v, ok := projectSection[key]; ok && v != nil {
			relevantProject[key] = v
		}
	}

	relevantPoetry := map[string]any{}
	for _, key := range poetryRelevantKeys {
		v, ok := poetrySection[key]
		if !ok || v == nil {
			if !isLegacyKey(key) || len(relevantProject) > 0 {
				continue
			}
			relevantPoetry[key] = nil
			continue
		}
		relevantPoetry[key] = v
	}

	var content any = relevantPoetry
	if len(relevantProject) > 0 {
		content = map[string]any{
			"project": relevantProject,
			"tool":    map[string]any{"poetry": relevantPoetry},
		}
	}

	var buf bytes.Buffer
	if err := writePythonJSON(&buf, content); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func declaredPythonDeps(project map[string]any) []string {
	seen := map[string]struct{}{}
	var names []string
	add := func(name string) {
		key := normalizeName(name)
		if key == "python" || key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}

	for name := range lookupTable(project, "tool", "poetry", "dependencies") {
		add(name)
	}
	for _, raw := range asSlice(lookupTable(project, "project")["dependencies"]) {
		if req, ok := raw.(string); ok {
			if m := pep508Name.FindStringSubmatch(req); m != nil {
				add(m[1])
			}
		}
	}
	for _, group := range lookupTable(project, "tool", "poetry", "group") {
		table, _ := group.(map[string]any)
		if optional, _ := table["optional"].(bool); optional {
			continue
		}
		deps, _ := table["dependencies"].(map[string]any)
		for name := range deps {
			add(name)
		}
	}
	return names
}

func normalizeName(name string) string {
	return pep503Separators.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

func isLegacyKey(key string) bool {
	for _, k := range poetryLegacyKeys {
		if k == key {
			return true
		}
	}
	return false
}

func lookupTable(root map[string]any, path ...string) map[string]any {
	current := root
	for _, key := range path {
		next, ok := current[key].(map[string]any)
		if !ok {
			return map[string]any{}
		}
		current = next
	}
	return current
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func readTOML(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := toml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writePythonJSON emits v with the separators and ASCII escaping of Python's
// json.dumps(v, sort_keys=True).
func writePythonJSON(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if value {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writePythonString(buf, value)
	case int64:
		buf.WriteString(strconv.FormatInt(value, 10))
	case int:
		buf.WriteString(strconv.Itoa(value))
	case float64:
		if math.IsInf(value, 0) || math.IsNaN(value) {
			return fmt.Errorf("unsupported float %v in manifest", value)
		}
		if value == math.Trunc(value) && math.Abs(value) < 1e16 {
			buf.WriteString(strconv.FormatFloat(value, 'f', 1, 64))
		} else {
			buf.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
		}
	case time.Time:
		writePythonString(buf, value.Format(time.RFC3339))
	case toml.LocalDate, toml.LocalTime, toml.LocalDateTime:
		writePythonString(buf, fmt.Sprint(value))
	case []any:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteString(", ")
			}
			if err := writePythonJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			writePythonString(buf, k)
			buf.WriteString(": ")
			if err := writePythonJSON(buf, value[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported manifest value %T", v)
	}
	return nil
}

func writePythonString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || (r >= 0x7f && r <= 0xffff):
				fmt.Fprintf(buf, `\u%04x`, r)
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(buf, `\u%04x\u%04x`, hi, lo)
			default:
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "none"
	}
	return h
}
