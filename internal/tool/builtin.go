package tool

// BuiltinConfig configures the local tool set.
type BuiltinConfig struct {
	Workspace      string
	Sandbox        bool
	CommandTimeout int
	MaxOutputBytes int
	BackupSuffix   string
}

// RegisterBuiltins adds every local tool whose schema is declared in schemas.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig, schemas map[string]Schema) {
	files := FileConfig{
		Workspace:      cfg.Workspace,
		Sandbox:        cfg.Sandbox,
		BackupSuffix:   cfg.BackupSuffix,
		MaxOutputBytes: cfg.MaxOutputBytes,
	}
	constructors := map[string]func(Schema) Tool{
		"execute_command": func(s Schema) Tool {
			return NewShellTool(ShellConfig{
				Workspace:      cfg.Workspace,
				Sandbox:        cfg.Sandbox,
				TimeoutSeconds: cfg.CommandTimeout,
				MaxOutputBytes: cfg.MaxOutputBytes,
			}, s)
		},
		"read_file":      func(s Schema) Tool { return NewReadFileTool(files, s) },
		"write_file":     func(s Schema) Tool { return NewWriteFileTool(files, s) },
		"edit_file":      func(s Schema) Tool { return NewEditFileTool(files, s) },
		"list_directory": func(s Schema) Tool { return NewListDirTool(files, s) },
		"find_files":     func(s Schema) Tool { return NewFindFilesTool(files, s) },
		"search_content": func(s Schema) Tool { return NewSearchContentTool(files, s) },
	}
	for name, build := range constructors {
		if s, ok := schemas[name]; ok {
			reg.Register(build(s))
		}
	}
}

// Compile-time interface checks.
var (
	_ Tool = (*ShellTool)(nil)
	_ Tool = (*ReadFileTool)(nil)
	_ Tool = (*WriteFileTool)(nil)
	_ Tool = (*EditFileTool)(nil)
	_ Tool = (*ListDirTool)(nil)
	_ Tool = (*FindFilesTool)(nil)
	_ Tool = (*SearchContentTool)(nil)
)
