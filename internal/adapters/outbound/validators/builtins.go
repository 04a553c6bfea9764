package validators

import (
	"fmt"

	"github.com/openkraft/anvil/internal/domain/normalize"
	"github.com/openkraft/anvil/internal/domain/registry"
	"go.uber.org/zap"
)

// Builtins returns the static table of tool integrations.
func Builtins() []Tool {
	return []Tool{
		// python
		flake8Tool(),
		pylintTool(),
		blackTool(),
		isortTool(),
		vultureTool(),
		pytestTool(),
		// cpp
		cppcheckTool(),
		clangTidyTool(),
		clangFormatTool(),
		cpplintTool(),
		gtestTool(),
		// go
		gofmtTool(),
		govetTool(),
		golangciTool(),
		gotestTool(),
	}
}

// RegisterBuiltins registers every built-in validator. All of them share
// one version cache so each tool is probed at most once per process.
func RegisterBuiltins(reg *registry.Registry, runner CommandRunner, logger *zap.Logger) error {
	versions := normalize.NewVersionCache()
	for _, tool := range Builtins() {
		v := NewToolValidator(tool, runner, versions, logger)
		if err := reg.Register(v.Descriptor()); err != nil {
			return fmt.Errorf("registering %s: %w", tool.Name, err)
		}
	}
	return nil
}
