// Package config loads and validates module descriptors: the YAML files
// describing each installable lab module. A descriptor is read-only for
// the duration of a lifecycle run.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator for descriptor structs.
var validate = validator.New()

// Module is the descriptor for one installable lab module.
type Module struct {
	// Name uniquely identifies the module in the catalog.
	Name string `yaml:"name" validate:"required"`

	// Provisioner selects the lifecycle provisioner. Defaults to
	// "container" when empty.
	Provisioner string `yaml:"provisioner,omitempty" validate:"omitempty,oneof=container"`

	// Source is where the module's payload comes from.
	Source Source `yaml:"source,omitempty"`

	// Destination is the checkout/extract path for the module payload.
	Destination string `yaml:"destination,omitempty"`

	// Container describes the module's workload, if it ships one.
	Container *Container `yaml:"container,omitempty"`

	// Hosting describes how the workload is exposed to the browser.
	Hosting *Hosting `yaml:"hosting,omitempty"`

	// Desktop optionally integrates the module into the desktop shell.
	Desktop *Desktop `yaml:"desktop,omitempty"`
}

// Source locates a module's payload.
type Source struct {
	// GitRepo is a clonable repository URL.
	GitRepo string `yaml:"git-repo,omitempty"`

	// URL is a direct download, used when GitRepo is empty.
	URL string `yaml:"url,omitempty"`
}

// Container is the workload spec for a containerized module.
type Container struct {
	// Name is the container name. Defaults to the module name.
	Name string `yaml:"name" validate:"required"`

	// Image is the image reference. Defaults to Name when empty.
	Image string `yaml:"image,omitempty"`

	// Ports maps container ports to loopback host ports.
	Ports []PortMapping `yaml:"ports,omitempty" validate:"dive"`
}

// PortMapping binds one container port to one host port on 127.0.0.1.
type PortMapping struct {
	Guest int `yaml:"guest" validate:"required,min=1,max=65535"`
	Host  int `yaml:"host" validate:"required,min=1,max=65535"`
}

// Hosting describes the reverse-proxy exposure of a module.
type Hosting struct {
	// Domain is the local hostname routed to the workload.
	Domain string `yaml:"domain" validate:"required,hostname_rfc1123"`

	// HTTP configures the plain-HTTP vhost.
	HTTP *HTTPHosting `yaml:"http,omitempty"`
}

// HTTPHosting is one nginx vhost: the listen port and the upstream.
type HTTPHosting struct {
	Listen    int    `yaml:"listen" validate:"required,min=1,max=65535"`
	ProxyPass string `yaml:"proxy-pass" validate:"required,url"`
}

// Desktop describes an optional desktop-shell entry for the module.
type Desktop struct {
	// Filename is the desktop entry file name, ".desktop" implied.
	Filename string `yaml:"filename" validate:"required"`

	// Content is the full desktop entry payload.
	Content string `yaml:"content" validate:"required"`

	// AddToFavorites pins the entry to the shell favorites when supported.
	AddToFavorites bool `yaml:"add_to_favorites,omitempty"`
}

// Validate checks the descriptor's structural constraints.
func (m *Module) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid module descriptor %q: %w", m.Name, err)
	}
	return nil
}

// ContainerName returns the workload name, defaulting to the module name.
func (m *Module) ContainerName() string {
	if m.Container != nil && m.Container.Name != "" {
		return m.Container.Name
	}
	return m.Name
}

// ContainerImage returns the image reference, defaulting to the workload
// name.
func (m *Module) ContainerImage() string {
	if m.Container == nil {
		return ""
	}
	if m.Container.Image != "" {
		return m.Container.Image
	}
	return m.Container.Name
}
