package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modulab/modulab/pkg/engine"
)

// Default locations for TLS material and nginx vhost configs, overridable
// per task for tests and non-standard layouts.
const (
	defaultCertDir      = "/etc/modulab/certs"
	defaultNginxConfDir = "/etc/nginx/conf.d"
)

// ReverseProxyPlugin installs an nginx TLS vhost for a module: a
// host-local certificate signed by the lab root CA, an HTTP-to-HTTPS
// redirect, and a proxy_pass to the workload. Certificate generation runs
// only when any of the four cert files is missing.
type ReverseProxyPlugin struct {
	engine.UnimplementedPlugin
}

// Aliases implements engine.Plugin.
func (p *ReverseProxyPlugin) Aliases() []string {
	return []string{"reverseproxy"}
}

// Required implements engine.Plugin.
func (p *ReverseProxyPlugin) Required(action engine.Action) []string {
	if action == engine.ActionRemove {
		return []string{"hostname"}
	}
	return []string{"hostname", "proxy_pass"}
}

// Install ensures cert material and the vhost config for hostname.
func (p *ReverseProxyPlugin) Install(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	hostname := params.String("hostname")
	certDir := params.StringOr("cert_dir", defaultCertDir)
	confDir := params.StringOr("conf_dir", defaultNginxConfDir)

	changed := false

	certsChanged, err := p.ensureCerts(ctx, env, certDir, hostname)
	if err != nil {
		return engine.Result{}, err
	}
	changed = changed || certsChanged

	conf := nginxVhost(hostname, params.String("proxy_pass"), certDir)
	confPath := filepath.Join(confDir, hostname+".conf")

	existing, err := os.ReadFile(confPath)
	if err != nil || !bytes.Equal(existing, []byte(conf)) {
		if err := os.MkdirAll(confDir, 0755); err != nil {
			return engine.Result{}, engine.WrapCritical("reverseproxy", "failed to create nginx conf directory", err)
		}
		if err := os.WriteFile(confPath, []byte(conf), 0644); err != nil {
			return engine.Result{}, engine.WrapCritical("reverseproxy", fmt.Sprintf("failed to write %s", confPath), err)
		}
		changed = true
	}

	if !changed {
		return engine.Result{Message: fmt.Sprintf("The vhost for %s is already configured.", hostname)}, nil
	}
	return engine.Result{Changed: true, Message: fmt.Sprintf("Configured vhost for %s", hostname)}, nil
}

// Remove deletes the vhost config. Cert material is kept; certificates
// are cheap to keep and expensive to regenerate mid-class.
func (p *ReverseProxyPlugin) Remove(ctx context.Context, env *engine.EnvContext, params engine.Params) (engine.Result, error) {
	hostname := params.String("hostname")
	confDir := params.StringOr("conf_dir", defaultNginxConfDir)
	confPath := filepath.Join(confDir, hostname+".conf")

	if _, err := os.Stat(confPath); os.IsNotExist(err) {
		return engine.Result{Message: fmt.Sprintf("No vhost config exists for %s.", hostname)}, nil
	}
	if err := os.Remove(confPath); err != nil {
		return engine.Result{}, engine.WrapCritical("reverseproxy", fmt.Sprintf("failed to remove %s", confPath), err)
	}
	return engine.Result{Changed: true, Message: fmt.Sprintf("Removed vhost for %s", hostname)}, nil
}

// ensureCerts generates the key, CSR, SAN extension file and certificate
// for hostname unless all four are already in place.
func (p *ReverseProxyPlugin) ensureCerts(ctx context.Context, env *engine.EnvContext, certDir, hostname string) (bool, error) {
	inPlace := true
	for _, suffix := range []string{"key", "csr", "crt", "ext"} {
		if _, err := os.Stat(filepath.Join(certDir, hostname+"."+suffix)); err != nil {
			inPlace = false
			break
		}
	}
	if inPlace {
		return false, nil
	}

	if err := os.MkdirAll(certDir, 0755); err != nil {
		return false, engine.WrapCritical("reverseproxy", "failed to create cert directory", err)
	}

	subject := fmt.Sprintf("/C=US/ST=Lab/L=Springfield/O=Modulab/CN=%s", hostname)
	if _, err := env.Commands.RunIn(ctx, certDir, "openssl",
		"req", "-new", "-newkey", "rsa:4096", "-nodes",
		"-keyout", hostname+".key", "-out", hostname+".csr",
		"-subj", subject,
	); err != nil {
		return false, engine.WrapCritical("reverseproxy", "failed to generate key and CSR", err)
	}

	ext := fmt.Sprintf(`authorityKeyIdentifier = keyid, issuer
basicConstraints = CA:FALSE
keyUsage = digitalSignature, nonRepudiation, keyEncipherment, dataEncipherment
subjectAltName = @alt_names

[alt_names]
DNS.1 = %s
`, hostname)
	if err := os.WriteFile(filepath.Join(certDir, hostname+".ext"), []byte(ext), 0644); err != nil {
		return false, engine.WrapCritical("reverseproxy", "failed to write SAN extension file", err)
	}

	if _, err := env.Commands.RunIn(ctx, certDir, "openssl",
		"x509", "-req", "-in", hostname+".csr",
		"-CA", "rootCACert.pem", "-CAkey", "rootCAKey.pem", "-CAcreateserial",
		"-out", hostname+".crt", "-days", "365", "-sha256",
		"-extfile", hostname+".ext",
	); err != nil {
		return false, engine.WrapCritical("reverseproxy", "failed to sign certificate", err)
	}

	return true, nil
}

// nginxVhost renders the redirect and TLS server blocks for a module.
func nginxVhost(hostname, proxyPass, certDir string) string {
	return fmt.Sprintf(`server {
  listen 80;
  server_name %[1]s;
  return 301 https://%[1]s:8443$request_uri;
}
server {
  listen 8443 ssl;
  server_name %[1]s;
  location / {
    proxy_pass %[2]s;
  }
  ssl_certificate %[3]s/%[1]s.crt;
  ssl_certificate_key %[3]s/%[1]s.key;
}
`, hostname, proxyPass, certDir)
}
