package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/mholt/archiver/v3"

	"github.com/modulab/modulab/pkg/engine"
)

// UnarchivePlugin downloads an archive and extracts it to a destination
// directory. The archive format is picked from the URL's file extension.
type UnarchivePlugin struct {
	engine.UnimplementedPlugin

	// Client is the HTTP client for downloads; http.DefaultClient when
	// nil.
	Client *http.Client
}

// Aliases implements engine.Plugin.
func (p *UnarchivePlugin) Aliases() []string {
	return []string{"unarchive"}
}

// Required implements engine.Plugin.
func (p *UnarchivePlugin) Required(engine.Action) []string {
	return []string{"url", "dest"}
}

// Any fetches the archive and unpacks it under dest. An existing dest
// directory with content is treated as already extracted.
func (p *UnarchivePlugin) Any(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	src := params.String("url")
	dest := params.String("dest")

	if entries, err := os.ReadDir(dest); err == nil && len(entries) > 0 && !params.Bool("overwrite") {
		return engine.Result{Message: fmt.Sprintf("The destination %s already has content.", dest)}, nil
	}

	tmp, err := p.fetchArchive(ctx, src)
	if err != nil {
		return engine.Result{}, engine.WrapCritical("unarchive", fmt.Sprintf("failed to download %s", src), err)
	}
	defer os.Remove(tmp)

	if err := os.MkdirAll(dest, 0755); err != nil {
		return engine.Result{}, engine.WrapCritical("unarchive", "failed to create destination", err)
	}
	if err := archiver.Unarchive(tmp, dest); err != nil {
		return engine.Result{}, engine.WrapCritical("unarchive", fmt.Sprintf("failed to extract %s", src), err)
	}

	return engine.Result{Changed: true, Message: fmt.Sprintf("Extracted %s to %s", src, dest)}, nil
}

// fetchArchive downloads src to a temp file whose name keeps the archive
// extension, which is how the extractor picks its format.
func (p *UnarchivePlugin) fetchArchive(ctx context.Context, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp("", "modulab-*"+archiveSuffix(src))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func archiveSuffix(src string) string {
	base := path.Base(src)
	// .tar.gz needs both extensions preserved.
	if ext := filepath.Ext(base); ext == ".gz" || ext == ".bz2" || ext == ".xz" {
		inner := filepath.Ext(base[:len(base)-len(ext)])
		return inner + ext
	}
	return filepath.Ext(base)
}
