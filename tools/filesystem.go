package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tandem-cli/tandem/config"
	"github.com/tandem-cli/tandem/errors"
)

// ReadFileTool reads an entire file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file. Args: path (string)."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"path": stringProp("Path of the file to read."),
	}, "path")
}

func (t *ReadFileTool) Validate(args map[string]interface{}) error {
	path, err := stringArg(args, "path")
	if err != nil {
		return err
	}
	return checkHidden(path, t.fsAccess)
}

// Reads never need approval.
func (t *ReadFileTool) Confirm(args map[string]interface{}) *ConfirmationRequest { return nil }

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}, onProgress func(string)) (*Result, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return &Result{
		Content: Truncate(string(content), t.Name()),
		Display: displayPath("Read", path),
	}, nil
}

// WriteFileTool replaces a file's content entirely.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Args: path (string), content (string)."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"path":    stringProp("Path of the file to write."),
		"content": stringProp("Full content to write."),
	}, "path", "content")
}

func (t *WriteFileTool) Validate(args map[string]interface{}) error {
	path, err := stringArg(args, "path")
	if err != nil {
		return err
	}
	if _, ok := args["content"].(string); !ok {
		return errors.New("missing or invalid 'content' argument")
	}
	return checkWritable(path, t.fsAccess)
}

func (t *WriteFileTool) Confirm(args map[string]interface{}) *ConfirmationRequest {
	path, _ := args["path"].(string)
	return &ConfirmationRequest{
		Kind:        ConfirmEdit,
		Tool:        t.Name(),
		Root:        t.Name(),
		Description: displayPath("Write", path),
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}, onProgress func(string)) (*Result, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, _ := args["content"].(string)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return &Result{
		Content: fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path),
		Display: displayPath("Wrote", path),
	}, nil
}

// EditFileTool replaces one exact occurrence of a string within a file.
type EditFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replaces an exact string in a file. The old string must appear exactly once. " +
		"Args: path (string), old (string), new (string)."
}

func (t *EditFileTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"path": stringProp("Path of the file to edit."),
		"old":  stringProp("Exact text to replace; must occur exactly once."),
		"new":  stringProp("Replacement text."),
	}, "path", "old", "new")
}

func (t *EditFileTool) Validate(args map[string]interface{}) error {
	path, err := stringArg(args, "path")
	if err != nil {
		return err
	}
	if _, err := stringArg(args, "old"); err != nil {
		return err
	}
	if _, ok := args["new"].(string); !ok {
		return errors.New("missing or invalid 'new' argument")
	}
	return checkWritable(path, t.fsAccess)
}

func (t *EditFileTool) Confirm(args map[string]interface{}) *ConfirmationRequest {
	path, _ := args["path"].(string)
	return &ConfirmationRequest{
		Kind:        ConfirmEdit,
		Tool:        t.Name(),
		Root:        t.Name(),
		Description: displayPath("Edit", path),
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}, onProgress func(string)) (*Result, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	old, _ := args["old"].(string)
	replacement, _ := args["new"].(string)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file '%s'", path)
	}
	content := string(data)

	switch strings.Count(content, old) {
	case 0:
		return nil, errors.New("old string not found in '%s'", path)
	case 1:
	default:
		return nil, errors.New("old string occurs more than once in '%s'; provide more context", path)
	}

	content = strings.Replace(content, old, replacement, 1)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return &Result{
		Content: fmt.Sprintf("Successfully edited %s", path),
		Display: displayPath("Edited", path),
	}, nil
}

func checkHidden(path string, fs *config.FilesystemAccess) error {
	hidden, err := isPathRestricted(path, fs.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", path)
	}
	return nil
}

func checkWritable(path string, fs *config.FilesystemAccess) error {
	if err := checkHidden(path, fs); err != nil {
		return err
	}
	readOnly, err := isPathRestricted(path, fs.ReadOnly)
	if err != nil {
		return err
	}
	if readOnly {
		return errors.New("access denied: path '%s' is read-only", path)
	}
	return nil
}
