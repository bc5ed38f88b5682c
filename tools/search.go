package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tandem-cli/tandem/config"
	"github.com/tandem-cli/tandem/errors"
)

// ListFilesTool lists paths matching a glob pattern.
type ListFilesTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ListFilesTool) Name() string { return "list_files" }
func (t *ListFilesTool) Description() string {
	return "Lists files matching a glob pattern (doublestar syntax, e.g. 'src/**/*.go'). Args: pattern (string)."
}

func (t *ListFilesTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"pattern": stringProp("Glob pattern to match, relative to the working directory."),
	}, "pattern")
}

func (t *ListFilesTool) Validate(args map[string]interface{}) error {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return err
	}
	if !doublestar.ValidatePattern(pattern) {
		return errors.New("invalid glob pattern '%s'", pattern)
	}
	return nil
}

func (t *ListFilesTool) Confirm(args map[string]interface{}) *ConfirmationRequest { return nil }

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}, onProgress func(string)) (*Result, error) {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return nil, err
	}
	matches, err := doublestar.Glob(os.DirFS("."), pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "glob failed for pattern '%s'", pattern)
	}

	var visible []string
	for _, m := range matches {
		hidden, err := isPathRestricted(m, t.fsAccess.Hidden)
		if err != nil {
			return nil, err
		}
		if !hidden {
			visible = append(visible, m)
		}
	}
	if len(visible) == 0 {
		return &Result{Content: "No files matched the pattern."}, nil
	}
	return &Result{
		Content: Truncate(strings.Join(visible, "\n"), t.Name()),
		Display: fmt.Sprintf("Matched %d files", len(visible)),
	}, nil
}

// SearchFilesTool greps file contents under a directory for a regex.
type SearchFilesTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *SearchFilesTool) Name() string { return "search_files" }
func (t *SearchFilesTool) Description() string {
	return "Searches file contents for a regular expression. Args: pattern (string), dir (string, optional, defaults to '.')."
}

func (t *SearchFilesTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"pattern": stringProp("Regular expression to search for."),
		"dir":     stringProp("Directory to search under. Defaults to the working directory."),
	}, "pattern")
}

func (t *SearchFilesTool) Validate(args map[string]interface{}) error {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return err
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return errors.Wrapf(err, "invalid regular expression '%s'", pattern)
	}
	return nil
}

func (t *SearchFilesTool) Confirm(args map[string]interface{}) *ConfirmationRequest { return nil }

func (t *SearchFilesTool) Execute(ctx context.Context, args map[string]interface{}, onProgress func(string)) (*Result, error) {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return nil, err
	}
	dir, _ := args["dir"].(string)
	if dir == "" {
		dir = "."
	}
	re := regexp.MustCompile(pattern)

	var hits []string
	matchedFiles := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".tandem" {
				return filepath.SkipDir
			}
			return nil
		}
		hidden, restErr := isPathRestricted(path, t.fsAccess.Hidden)
		if restErr != nil || hidden {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil || !isLikelyText(data) {
			return nil
		}
		fileMatched := false
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				hits = append(hits, fmt.Sprintf("%s:%d: %s", path, i+1, strings.TrimSpace(line)))
				fileMatched = true
			}
		}
		if fileMatched {
			matchedFiles++
			if onProgress != nil {
				onProgress(path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "search failed")
	}
	if len(hits) == 0 {
		return &Result{Content: "No matches found."}, nil
	}
	return &Result{
		Content: Truncate(strings.Join(hits, "\n"), t.Name()),
		Display: fmt.Sprintf("Found %d matching lines in %d files", len(hits), matchedFiles),
	}, nil
}

func isLikelyText(data []byte) bool {
	limit := len(data)
	if limit > 8000 {
		limit = 8000
	}
	for _, b := range data[:limit] {
		if b == 0 {
			return false
		}
	}
	return true
}
