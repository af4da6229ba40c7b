package opengl

import (
	"fmt"
	"regexp"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/glsl"

	"github.com/gogpu/gpusort/internal/cache"
	"github.com/gogpu/gpusort/kernel"
)

// plainUniform matches a non-block uniform with an explicit binding. GLSL
// 430 only allows bindings on blocks, so these are wrapped in one.
var plainUniform = regexp.MustCompile(`layout\(binding = (\d+)\) uniform (\w+) (\w+);`)

const uniformBlock = "layout(std140, binding = $1) uniform ${3}_block { $2 $3; };"

// glslCache holds translated sources by group size.
var glslCache = cache.New[int, map[kernel.EntryPoint]string](8)

// TranslateKernels translates the bitonic module for groupSize to one GLSL
// 430 compute shader per entry point. Sources are NUL terminated for
// glgl.CompileProgram. Results are cached per group size and must not be
// modified.
func TranslateKernels(groupSize int) (map[kernel.EntryPoint]string, error) {
	sources, err := glslCache.Load(groupSize, func() (map[kernel.EntryPoint]string, error) {
		return translate(groupSize)
	})
	if err != nil {
		return nil, err
	}
	st := glslCache.Stats()
	slogger().Debug("opengl: kernel sources ready", "group_size", groupSize,
		"cached_modules", st.Len, "cache_hit_rate", st.HitRate())
	return sources, nil
}

func translate(groupSize int) (map[kernel.EntryPoint]string, error) {
	src, err := kernel.Source(groupSize)
	if err != nil {
		return nil, err
	}
	ast, err := naga.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("opengl: parse bitonic shader: %w", err)
	}
	module, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, fmt.Errorf("opengl: lower bitonic shader: %w", err)
	}

	out := make(map[kernel.EntryPoint]string, 2)
	for _, e := range []kernel.EntryPoint{kernel.LocalSort, kernel.GlobalMerge} {
		code, _, err := glsl.Compile(module, glsl.Options{
			LangVersion: glsl.Version430,
			EntryPoint:  string(e),
		})
		if err != nil {
			return nil, fmt.Errorf("opengl: translate %s: %w", e, err)
		}
		code = plainUniform.ReplaceAllString(code, uniformBlock)
		out[e] = code + "\x00"
	}
	return out, nil
}
