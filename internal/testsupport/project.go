package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// ServiceWorker is the course service worker SeedProject writes.
const ServiceWorker = "self.addEventListener('fetch', () => {});\n"

// FrontendManifest is the package.json SeedProject writes.
const FrontendManifest = `{
  "name": "frontend",
  "private": true,
  "dependencies": {"react": "^17.0.2"},
  "devDependencies": {"react-scripts": "5.0.1"}
}
`

// FrontendLock is a package-lock.json consistent with FrontendManifest.
const FrontendLock = `{
  "name": "frontend",
  "lockfileVersion": 3,
  "packages": {
    "": {
      "name": "frontend",
      "dependencies": {"react": "^17.0.2"},
      "devDependencies": {"react-scripts": "5.0.1"}
    },
    "node_modules/react": {"version": "17.0.2"},
    "node_modules/react-scripts": {"version": "5.0.1", "dev": true}
  }
}
`

// SeedProject writes a minimal project tree into dir: backend manifest and
// lock, backend and course sources, a generator script, and a frontend with
// a consistent manifest and lockfile.
func SeedProject(t testing.TB, dir string) {
	t.Helper()
	files := map[string]string{
		"pyproject.toml":             "[tool.poetry]\nname = \"app\"\nversion = \"0.1.0\"\n\n[tool.poetry.dependencies]\npython = \"^3.10\"\n",
		"poetry.lock":                "[metadata]\nlock-version = \"2.0\"\ncontent-hash = \"\"\n",
		"backend/main/text.py":       "STEPS = ['intro']\n",
		"course/service-worker.js":   ServiceWorker,
		"scripts/generate.sh":        "#!/bin/sh\nmkdir -p frontend/src/book\necho generated > frontend/src/book/chapters.json\n",
		"frontend/package.json":      FrontendManifest,
		"frontend/package-lock.json": FrontendLock,
		"frontend/src/index.js":      "console.log('app');\n",
		"frontend/public/index.html": "<html><body><div id=\"root\"></div></body></html>\n",
	}
	for rel, content := range files {
		WriteText(t, filepath.Join(dir, rel), content)
	}
	MakeExecutable(t, filepath.Join(dir, "scripts/generate.sh"))
}

// MakeExecutable sets the executable bits on path.
func MakeExecutable(t testing.TB, path string) {
	t.Helper()
	if err := os.Chmod(path, 0o755); err != nil {
		t.Fatalf("chmod %s: %v", path, err)
	}
}
