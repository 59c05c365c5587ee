package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// readModules returns the exposure policy modules found directly in dir,
// keyed by file name. Rego unit tests (*_test.rego) and subdirectories are
// skipped so a bundle can ship its own tests next to the policy.
func readModules(dir string) (map[string]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir %s: %w", dir, err)
	}
	modules := make(map[string]string, len(files))
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || filepath.Ext(name) != ".rego" || strings.HasSuffix(name, "_test.rego") {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", name, err)
		}
		modules[name] = string(src)
	}
	return modules, nil
}
