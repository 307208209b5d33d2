package compiler

import (
	"fmt"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/tablet/internal/schema"
)

// CompileSource compiles a single CUE document held in memory, such as an
// embedded module file. The filename only appears in error positions.
func CompileSource(filename, src string) (*schema.ModuleDef, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cuecontext.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileModule(v)
}

// LoadDir loads every .cue file of the package in dir as one instance and
// compiles it.
func LoadDir(dir string) (*schema.ModuleDef, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileModule(v)
}
