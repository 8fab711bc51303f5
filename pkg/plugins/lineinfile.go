package plugins

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/modulab/modulab/pkg/engine"
)

// LineInFilePlugin ensures the presence or absence of an exact line in a
// text file. The engine uses it for /etc/hosts entries; the file is read
// and compared before any write.
type LineInFilePlugin struct {
	engine.UnimplementedPlugin
}

// Aliases implements engine.Plugin.
func (p *LineInFilePlugin) Aliases() []string {
	return []string{"lineinfile"}
}

// Required implements engine.Plugin.
func (p *LineInFilePlugin) Required(engine.Action) []string {
	return []string{"dest", "line"}
}

// Install ensures the line. With the "state" parameter set to "absent"
// the line is removed instead, mirroring how remove task lists reuse the
// same operation key.
func (p *LineInFilePlugin) Install(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	if params.String("state") == "absent" {
		return p.Remove(ctx, env, params)
	}
	dest := params.String("dest")
	line := params.String("line")

	lines, missingFile, err := readLines(dest)
	if err != nil {
		return engine.Result{}, engine.WrapCritical("lineinfile", fmt.Sprintf("failed to read %s", dest), err)
	}

	for _, l := range lines {
		if l == line {
			return engine.Result{Message: fmt.Sprintf("The line is already present in %s.", dest)}, nil
		}
	}

	lines = append(lines, line)
	if err := writeLines(dest, lines); err != nil {
		return engine.Result{}, engine.WrapCritical("lineinfile", fmt.Sprintf("failed to write %s", dest), err)
	}

	msg := fmt.Sprintf("Added line to %s", dest)
	if missingFile {
		msg = fmt.Sprintf("Created %s with the line", dest)
	}
	return engine.Result{Changed: true, Message: msg}, nil
}

// Remove drops every occurrence of the exact line from the file. A
// missing file or line is a no-op.
func (p *LineInFilePlugin) Remove(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	dest := params.String("dest")
	line := params.String("line")

	lines, missingFile, err := readLines(dest)
	if err != nil {
		return engine.Result{}, engine.WrapCritical("lineinfile", fmt.Sprintf("failed to read %s", dest), err)
	}
	if missingFile {
		return engine.Result{Message: fmt.Sprintf("The file %s does not exist.", dest)}, nil
	}

	kept := lines[:0]
	removed := 0
	for _, l := range lines {
		if l == line {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	if removed == 0 {
		return engine.Result{Message: fmt.Sprintf("The line is not present in %s.", dest)}, nil
	}

	if err := writeLines(dest, kept); err != nil {
		return engine.Result{}, engine.WrapCritical("lineinfile", fmt.Sprintf("failed to write %s", dest), err)
	}
	return engine.Result{Changed: true, Message: fmt.Sprintf("Removed line from %s", dest)}, nil
}

func readLines(path string) (lines []string, missing bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, false, nil
	}
	return strings.Split(text, "\n"), false, nil
}

func writeLines(path string, lines []string) error {
	// Preserve existing file permissions when the file is already there.
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), mode)
}
