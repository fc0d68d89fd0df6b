package flowgraph

import (
	"fmt"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/porttype"
)

// WithTypeRegistry makes Build reject declared port types that the
// registry cannot resolve. ValidateCanvas ignores it.
func WithTypeRegistry(types *porttype.Registry) ValidateOption {
	return func(c *validateConfig) {
		c.types = types
	}
}

// Build validates the canvas and returns an immutable DAG.
// Returns the *BuildError from ValidateCanvas on failure.
//
// The DAG holds a deep copy of the canvas; later changes to c do not
// affect it.
//
// Example:
//
//	dag, err := flowgraph.Build(canvas)
//	if err != nil {
//	    var be *flowgraph.BuildError
//	    if errors.As(err, &be) {
//	        log.Printf("%s at %s.%s", be.Code, be.Node, be.Port)
//	    }
//	    return err
//	}
//	result, err := dag.Run(ctx, executors)
func Build(c Canvas, opts ...ValidateOption) (*DAG, error) {
	cfg := newValidateConfig(opts)
	if err := ValidateCanvas(c, opts...); err != nil {
		return nil, err
	}
	if cfg.types != nil {
		if err := checkPortTypes(c, cfg.types); err != nil {
			return nil, err
		}
	}
	return newDAG(c), nil
}

// MustBuild is like Build but panics on error. For tests and examples
// with fixed canvases.
func MustBuild(c Canvas, opts ...ValidateOption) *DAG {
	d, err := Build(c, opts...)
	if err != nil {
		panic(fmt.Sprintf("flowgraph: %v", err))
	}
	return d
}

func checkPortTypes(c Canvas, types *porttype.Registry) error {
	for _, n := range c.Nodes {
		for _, ports := range [][]PortSpec{n.In, n.Out} {
			for _, p := range ports {
				for _, t := range p.Types {
					if _, err := types.Lookup(t); err != nil {
						return fmt.Errorf("node %s port %s: %w", n.ID, p.Port, err)
					}
				}
			}
		}
	}
	return nil
}
