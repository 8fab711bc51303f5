package plugins

import (
	"github.com/modulab/modulab/pkg/engine"
)

// NewRegistry builds the standard plugin registry: every task plugin the
// provisioners dispatch to, registered under its operation keys. The
// container plugin talks to Docker through api so callers with no daemon
// (tests, dry runs) can pass a fake.
func NewRegistry(api ContainerAPI) *engine.Registry {
	reg := engine.NewRegistry()

	reg.MustRegister(NewContainerPlugin(api))
	reg.MustRegister(&CopyPlugin{})
	reg.MustRegister(&LineInFilePlugin{})
	reg.MustRegister(&GetURLPlugin{})
	reg.MustRegister(&UnarchivePlugin{})
	reg.MustRegister(&GitPlugin{})
	reg.MustRegister(&CommandPlugin{})
	reg.MustRegister(&ServicePlugin{})
	reg.MustRegister(&RemovePlugin{})
	reg.MustRegister(&ReverseProxyPlugin{})
	reg.MustRegister(&DesktopPlugin{})

	return reg
}
