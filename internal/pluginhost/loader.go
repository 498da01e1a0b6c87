package pluginhost

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
)

// pluginABI adapts a loaded *plugin.Plugin's exported symbols to the ABI
// interface. Each symbol is looked up by name and type-asserted to its
// expected function signature; a missing or mistyped symbol fails the load
// with ErrMissingSymbol rather than panicking the host.
type pluginABI struct {
	p *plugin.Plugin

	abiTag   func() string
	create   func() (any, error)
	describe func(any) (Descriptor, error)
	preInit  func(any, HostCallbacks) error
	init     func(any, HostCallbacks) error
	shutdown func(any) error
	destroy  func(any) error
}

func loadABI(p *plugin.Plugin) (*pluginABI, error) {
	a := &pluginABI{p: p}

	lookup := func(name string, dst any) error {
		sym, err := p.Lookup(name)
		if err != nil {
			return fmt.Errorf("%w: %s (%v)", ErrMissingSymbol, name, err)
		}
		switch d := dst.(type) {
		case *func() string:
			fn, ok := sym.(func() string)
			if !ok {
				return fmt.Errorf("%w: %s has the wrong signature", ErrMissingSymbol, name)
			}
			*d = fn
		case *func() (any, error):
			fn, ok := sym.(func() (any, error))
			if !ok {
				return fmt.Errorf("%w: %s has the wrong signature", ErrMissingSymbol, name)
			}
			*d = fn
		case *func(any) (Descriptor, error):
			fn, ok := sym.(func(any) (Descriptor, error))
			if !ok {
				return fmt.Errorf("%w: %s has the wrong signature", ErrMissingSymbol, name)
			}
			*d = fn
		case *func(any, HostCallbacks) error:
			fn, ok := sym.(func(any, HostCallbacks) error)
			if !ok {
				return fmt.Errorf("%w: %s has the wrong signature", ErrMissingSymbol, name)
			}
			*d = fn
		case *func(any) error:
			fn, ok := sym.(func(any) error)
			if !ok {
				return fmt.Errorf("%w: %s has the wrong signature", ErrMissingSymbol, name)
			}
			*d = fn
		default:
			return fmt.Errorf("pluginhost: unreachable lookup target for %s", name)
		}
		return nil
	}

	if err := lookup("AbiTag", &a.abiTag); err != nil {
		return nil, err
	}
	if err := lookup("Create", &a.create); err != nil {
		return nil, err
	}
	if err := lookup("Describe", &a.describe); err != nil {
		return nil, err
	}
	if err := lookup("PreInit", &a.preInit); err != nil {
		return nil, err
	}
	if err := lookup("Init", &a.init); err != nil {
		return nil, err
	}
	if err := lookup("Shutdown", &a.shutdown); err != nil {
		return nil, err
	}
	if err := lookup("Destroy", &a.destroy); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *pluginABI) AbiTag() string                              { return a.abiTag() }
func (a *pluginABI) Create() (any, error)                         { return a.create() }
func (a *pluginABI) Describe(h any) (Descriptor, error)           { return a.describe(h) }
func (a *pluginABI) PreInit(h any, hc HostCallbacks) error        { return a.preInit(h, hc) }
func (a *pluginABI) Init(h any, hc HostCallbacks) error           { return a.init(h, hc) }
func (a *pluginABI) Shutdown(h any) error                         { return a.shutdown(h) }
func (a *pluginABI) Destroy(h any) error                          { return a.destroy(h) }

// discoverImages lists every *.so file directly inside dir, matching the
// on-disk layout a dynamic plugin directory is expected to have.
func discoverImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".so") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
