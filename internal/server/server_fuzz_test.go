package server

import (
	"path/filepath"
	"strings"
	"testing"
)

func FuzzIsSafeName(f *testing.F) {
	f.Add("valid-name_123")
	f.Add("")
	f.Add("..")
	f.Add("../etc/passwd")
	f.Add("name/with/slash")
	f.Add("name\\with\\backslash")
	f.Add("valid.name")
	f.Add("...dotted")
	f.Add("unicode한글name")
	f.Add("name\x00null")
	f.Add("name\nnewline")
	f.Add("name\ttab")

	f.Fuzz(func(t *testing.T, name string) {
		if len(name) > 200 {
			t.Skip("name too long")
		}
		result := isSafeName(name)

		if name == "" && result {
			t.Error("empty name should not be safe")
		}
		if strings.Contains(name, "..") && result {
			t.Errorf("name with .. should not be safe: %q", name)
		}
		if strings.ContainsAny(name, "/\\") && result {
			t.Errorf("name with path separators should not be safe: %q", name)
		}
		if result != isSafeName(name) {
			t.Errorf("isSafeName inconsistent for %q", name)
		}
	})
}

func FuzzIsSafeAbsPath(f *testing.F) {
	f.Add("/safe/absolute/path")
	f.Add("")
	f.Add("/")
	f.Add("relative/path")
	f.Add("/path/../traversal")
	f.Add("/path/./current")
	f.Add("/path//double/slash")
	f.Add("C:\\Windows\\Path")
	f.Add("/path/with spaces")
	f.Add("/path\x00null")

	f.Fuzz(func(t *testing.T, path string) {
		if len(path) > 500 {
			t.Skip("path too long")
		}
		result := isSafeAbsPath(path)

		if path == "" && !result {
			t.Error("empty path should be allowed")
		}
		if path != "" && !filepath.IsAbs(path) && result {
			t.Errorf("relative path should not be safe: %q", path)
		}
		if path != "" {
			clean := filepath.Clean(path)
			trimmed := strings.TrimRight(path, string(filepath.Separator))
			if trimmed == "" {
				trimmed = path
			}
			if clean != path && clean != trimmed && result {
				t.Errorf("path that changes when cleaned should not be safe: %q -> %q", path, clean)
			}
		}
		if result != isSafeAbsPath(path) {
			t.Errorf("isSafeAbsPath inconsistent for %q", path)
		}
	})
}

func FuzzSanitizeBase(f *testing.F) {
	f.Add("")
	f.Add("/")
	f.Add("/api")
	f.Add("/api/")
	f.Add("api")
	f.Add("  /api/v1/  ")
	f.Add("//multiple//slashes//")
	f.Add("/path\x00null")

	f.Fuzz(func(t *testing.T, basePath string) {
		if len(basePath) > 200 {
			t.Skip("base path too long")
		}
		result := sanitizeBase(basePath)

		if result != "" {
			if !strings.HasPrefix(result, "/") {
				t.Errorf("sanitized base should start with /: %q -> %q", basePath, result)
			}
			if strings.HasSuffix(result, "/") {
				t.Errorf("sanitized base should not end with /: %q -> %q", basePath, result)
			}
		}
		if trimmed := strings.TrimSpace(basePath); (trimmed == "" || trimmed == "/") && result != "" {
			t.Errorf("empty or root base should result in empty: %q -> %q", basePath, result)
		}
		if result != sanitizeBase(basePath) {
			t.Errorf("sanitizeBase inconsistent for %q", basePath)
		}
	})
}
