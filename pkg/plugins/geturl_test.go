package plugins

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/modulab/modulab/pkg/engine"
)

func TestGetURLDownloadsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "payload")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "payload.bin")
	p := &GetURLPlugin{Client: srv.Client()}

	res, err := p.Any(context.Background(), &engine.EnvContext{}, engine.Params{"url": srv.URL, "dest": dest})
	if err != nil || !res.Changed {
		t.Fatalf("Any: changed=%v err=%v", res.Changed, err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading dest: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestGetURLSkipsExistingDest(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(dest, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	// No server: the download must never be attempted.
	p := &GetURLPlugin{}
	res, err := p.Any(context.Background(), &engine.EnvContext{}, engine.Params{
		"url":  "http://127.0.0.1:1/unreachable",
		"dest": dest,
	})
	if err != nil || res.Changed {
		t.Fatalf("expected no-op for existing dest: changed=%v err=%v", res.Changed, err)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "old" {
		t.Errorf("existing file was touched: %q", data)
	}
}

func TestGetURLResolvesLinkPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/releases", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="/downloads/tool_v2.deb">tool</a>`)
	})
	mux.HandleFunc("/downloads/tool_v2.deb", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "debdata")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "tool.deb")
	p := &GetURLPlugin{Client: srv.Client()}

	res, err := p.Any(context.Background(), &engine.EnvContext{}, engine.Params{
		"url":          srv.URL + "/releases",
		"dest":         dest,
		"link_pattern": `/downloads/[^"]+\.deb`,
	})
	if err != nil || !res.Changed {
		t.Fatalf("Any: changed=%v err=%v", res.Changed, err)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "debdata" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestGetURLFollowsExpandedAssets(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/releases", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<include-fragment src=\"%s/expanded_assets/v2\">\n", srv.URL)
	})
	mux.HandleFunc("/expanded_assets/v2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="/assets/tool_v2.deb">asset</a>`)
	})
	mux.HandleFunc("/assets/tool_v2.deb", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "assetdata")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "tool.deb")
	p := &GetURLPlugin{Client: srv.Client()}

	res, err := p.Any(context.Background(), &engine.EnvContext{}, engine.Params{
		"url":          srv.URL + "/releases",
		"dest":         dest,
		"link_pattern": `/assets/[^"]+\.deb`,
	})
	if err != nil || !res.Changed {
		t.Fatalf("Any: changed=%v err=%v", res.Changed, err)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "assetdata" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestGetURLPatternNotFoundIsCritical(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "nothing here")
	}))
	defer srv.Close()

	p := &GetURLPlugin{Client: srv.Client()}
	_, err := p.Any(context.Background(), &engine.EnvContext{}, engine.Params{
		"url":          srv.URL,
		"dest":         filepath.Join(t.TempDir(), "x"),
		"link_pattern": `will-not-match-\d+`,
	})
	if err == nil {
		t.Fatal("expected error when the pattern matches nothing")
	}
}
