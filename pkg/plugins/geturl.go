package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/modulab/modulab/pkg/engine"
)

// GetURLPlugin downloads a file over HTTP. With the optional
// "link_pattern" parameter the named URL is treated as a release page:
// the page is fetched and the first match of the pattern becomes the real
// download link. Archives are handed to the unarchive plugin.
type GetURLPlugin struct {
	engine.UnimplementedPlugin

	// Client is the HTTP client for downloads; http.DefaultClient when
	// nil.
	Client *http.Client
}

// Aliases implements engine.Plugin.
func (p *GetURLPlugin) Aliases() []string {
	return []string{"get_url"}
}

// Required implements engine.Plugin.
func (p *GetURLPlugin) Required(engine.Action) []string {
	return []string{"url", "dest"}
}

// Any downloads the resource to dest. An existing dest is left alone
// unless the "overwrite" parameter is set.
func (p *GetURLPlugin) Any(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	dest := params.String("dest")

	if _, err := os.Stat(dest); err == nil && !params.Bool("overwrite") {
		return engine.Result{Message: fmt.Sprintf("The specified file already exists: %s", dest)}, nil
	}

	target := params.String("url")
	if pattern := params.String("link_pattern"); pattern != "" {
		resolved, err := p.resolveLink(ctx, target, pattern, 0)
		if err != nil {
			return engine.Result{}, err
		}
		target = resolved
	}

	if strings.HasSuffix(target, ".tgz") || strings.HasSuffix(target, ".tar.gz") {
		unarch := &UnarchivePlugin{Client: p.Client}
		return unarch.Any(ctx, env, engine.Params{"url": target, "dest": dest})
	}

	if err := p.download(ctx, target, dest); err != nil {
		return engine.Result{}, engine.WrapCritical("get_url", fmt.Sprintf("failed to download %s", target), err)
	}
	return engine.Result{Changed: true, Message: fmt.Sprintf("Downloaded %s", target)}, nil
}

// maxLinkHops bounds the release-page fragment chase.
const maxLinkHops = 5

// resolveLink fetches a page and extracts the first link matching
// pattern. GitHub release pages lazy-load their asset lists behind
// expanded_assets fragment URLs, so when the pattern finds nothing the
// fragments are fetched and searched in turn.
func (p *GetURLPlugin) resolveLink(ctx context.Context, pageURL, pattern string, depth int) (string, error) {
	if depth > maxLinkHops {
		return "", engine.NewCriticalError("get_url", "too many link indirections resolving download page")
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", engine.WrapCritical("get_url", "invalid link_pattern", err)
	}

	body, finalURL, err := p.fetchPage(ctx, pageURL)
	if err != nil {
		return "", engine.WrapCritical("get_url", fmt.Sprintf("failed to fetch %s", pageURL), err)
	}

	if match := re.FindString(body); match != "" {
		if strings.HasPrefix(match, "http") {
			return match, nil
		}
		base, err := url.Parse(finalURL)
		if err != nil {
			return "", engine.WrapCritical("get_url", "invalid response URL", err)
		}
		return fmt.Sprintf("%s://%s%s", base.Scheme, base.Host, match), nil
	}

	for _, fragment := range expandedAssetLinks(body) {
		resolved, err := p.resolveLink(ctx, fragment, pattern, depth+1)
		if err == nil {
			return resolved, nil
		}
	}

	return "", engine.NewCriticalError("get_url", "could not find link pattern in resulting page")
}

// expandedAssetLinks pulls the lazy-loaded asset fragment URLs out of a
// GitHub release page.
func expandedAssetLinks(body string) []string {
	var links []string
	for _, line := range strings.Split(body, "\n") {
		if !strings.Contains(line, "expanded_assets") {
			continue
		}
		for _, field := range strings.Split(line, `"`) {
			if strings.HasPrefix(field, "http") && strings.Contains(field, "expanded_assets") {
				links = append(links, field)
			}
		}
	}
	return links
}

func (p *GetURLPlugin) fetchPage(ctx context.Context, pageURL string) (body, finalURL string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	return string(data), resp.Request.URL.String(), nil
}

func (p *GetURLPlugin) download(ctx context.Context, target, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		// A partial download must not masquerade as a completed one.
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}

func (p *GetURLPlugin) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}
