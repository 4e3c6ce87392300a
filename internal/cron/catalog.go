package cron

// catalog maps each predefined task name to its fixed description, as
// registered by the cron scheduler's catalog task set.
var catalog = map[string]string{
	"clean_code":           "Clean and format code files",
	"run_tests":             "Run project test suite",
	"code_review":          "Perform automated code review",
	"update_deps":          "Check and update dependencies",
	"security_scan":        "Run security vulnerability scan",
	"performance_check":    "Analyze performance metrics",
	"documentation_update": "Update README and documentation",
}

// CatalogDescription resolves a predefined task name to its canonical
// description. ok is false for an unrecognized name.
func CatalogDescription(name string) (string, bool) {
	desc, ok := catalog[name]
	return desc, ok
}

// CatalogNames returns every recognized predefined task name.
func CatalogNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	return names
}
