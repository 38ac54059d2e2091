package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/harun/crucible/pkg/pathguard"
)

// BaseNamespace builds the restricted predeclared environment every fresh
// session starts from. It contains file builtins (all confined by the path
// guard), the struct constructor, and the _require_ hook the preprocessor
// rewrites imports to. There is deliberately no eval, no import, no exec,
// and no way to reach the process.
func BaseNamespace(reg *Registry) starlark.StringDict {
	return starlark.StringDict{
		"_require_":   reg.RequireBuiltin(),
		"struct":      starlark.NewBuiltin("struct", starlarkstruct.Make),
		"read_file":   starlark.NewBuiltin("read_file", readFile),
		"write_file":  starlark.NewBuiltin("write_file", writeFile),
		"append_file": starlark.NewBuiltin("append_file", appendFile),
		"list_files":  starlark.NewBuiltin("list_files", listFiles),
	}
}

func readFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}

	resolved, err := ResolvePath(thread, path, pathguard.ModeRead)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	return starlark.String(data), nil
}

func writeFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return writeToFile(thread, b, args, kwargs, false)
}

func appendFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return writeToFile(thread, b, args, kwargs, true)
}

func writeToFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, appendMode bool) (starlark.Value, error) {
	var path, content string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "content", &content); err != nil {
		return nil, err
	}

	resolved, err := ResolvePath(thread, path, pathguard.ModeWrite)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	return relativeToSession(thread, resolved)
}

func listFiles(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}

	env, err := EnvFromThread(thread)
	if err != nil {
		return nil, err
	}

	var names []string
	err = filepath.WalkDir(env.SessionDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(env.SessionDir, path)
		if relErr != nil {
			return relErr
		}
		names = append(names, rel)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list_files: %w", err)
	}

	sort.Strings(names)
	elems := make([]starlark.Value, len(names))
	for i, name := range names {
		elems[i] = starlark.String(name)
	}
	return starlark.NewList(elems), nil
}

// relativeToSession reports a confined path back to the script as a
// session-relative name, the form the guard accepts on the next call
func relativeToSession(thread *starlark.Thread, resolved string) (starlark.Value, error) {
	env, err := EnvFromThread(thread)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(env.SessionDir, resolved)
	if err != nil {
		return starlark.String(resolved), nil
	}
	return starlark.String(rel), nil
}
