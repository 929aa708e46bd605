package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"strings"

	"futurebuild/internal/fileutil"
)

var noiseDirs = map[string]struct{}{
	".git":          {},
	"node_modules":  {},
	"__pycache__":   {},
	".pytest_cache": {},
	".mypy_cache":   {},
	".futurebuild":  {},
	".venv":         {},
}

func skipNoise(rel string) bool {
	base := path.Base(rel)
	if _, ok := noiseDirs[base]; ok {
		return true
	}
	return strings.HasSuffix(base, ".pyc")
}

// InputsFingerprint hashes the generator inputs under root. The result
// changes whenever a file under any input is added, removed, or edited.
func InputsFingerprint(root string, inputs []string) (string, error) {
	return fileutil.HashTree(root, inputs, skipNoise)
}

// BuildCacheKey identifies a bundle by its frontend sources and the precache
// flag, so toggling the flag alone yields a different key.
func BuildCacheKey(frontendDir string, sources []string, precache bool) (string, error) {
	sourcesHash, err := fileutil.HashTree(frontendDir, sources, skipNoise)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	fmt.Fprintf(h, "sources=%s\nprecache=%t\n", sourcesHash, precache)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readStamp(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	value := strings.TrimSpace(string(data))
	return value, value != ""
}

func writeStamp(path, value string) error {
	return fileutil.WriteFileAtomic(path, []byte(value+"\n"))
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
