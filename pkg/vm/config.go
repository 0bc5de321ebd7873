package vm

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config bounds the VM's resources. The zero value is not useful; start
// from DefaultConfig.
type Config struct {
	// StackSize is the operand stack capacity in words. Frames live on
	// the operand stack, so this also bounds total local storage.
	StackSize int `toml:"stack_size"`

	// MaxCallDepth bounds the call-frame stack. Runaway recursion traps
	// instead of eating the host's memory.
	MaxCallDepth int `toml:"max_call_depth"`

	// MemoryLimit is the data memory ceiling in bytes: globals, string
	// constants, and everything malloc hands out.
	MemoryLimit int `toml:"memory_limit"`

	// Trace dumps each instruction to stderr before executing it.
	Trace bool `toml:"trace"`
}

func DefaultConfig() Config {
	return Config{
		StackSize:    1 << 20,
		MaxCallDepth: 1 << 16,
		MemoryLimit:  16 << 20,
	}
}

type configFile struct {
	VM Config `toml:"vm"`
}

// LoadConfig reads the [vm] table from a c4.toml. A missing file is not
// an error; it yields DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	fc := configFile{VM: cfg}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return fc.VM, nil
}
