package toolchain

import "context"

// ComponentTranslator shells to the component-translation tool
// (wasm-tools-component-new-shaped) and the JS/TS transpile tool
// (jco-transpile-shaped), spec §2 stage 6 and §4.11.
type ComponentTranslator struct {
	// TranslatorPath and TranspilePath default to the bare binary names on
	// PATH ("wasm-tools", "jco").
	TranslatorPath string
	TranspilePath  string
}

func DefaultComponentTranslator() *ComponentTranslator {
	return &ComponentTranslator{TranslatorPath: "wasm-tools", TranspilePath: "jco"}
}

// Translate wraps corePath as a component, writing the result to outPath.
func (c *ComponentTranslator) Translate(ctx context.Context, corePath, outPath string) error {
	bin := c.TranslatorPath
	if bin == "" {
		bin = "wasm-tools"
	}
	return runTool(ctx, bin, []string{"component", "new", corePath, "-o", outPath})
}

// Transpile generates a JS/TS binding for componentPath into outDir (spec §6
// "Generated auxiliary files"), skipped entirely when --no-transpile is set.
func (c *ComponentTranslator) Transpile(ctx context.Context, componentPath, outDir string) error {
	bin := c.TranspilePath
	if bin == "" {
		bin = "jco"
	}
	return runTool(ctx, bin, []string{"transpile", componentPath, "-o", outDir})
}
