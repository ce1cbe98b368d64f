package podbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// planMounts turns the volume and init-script declarations into bind
// specs in the engine's "hostPath:containerPath[:ro]" grammar.
//
// Init scripts come first and are renamed with a two-digit sequence
// prefix, so entrypoints that execute the init directory in lexical order
// run them in the order the caller gave, whatever the original filenames.
func planMounts(cfg Config) ([]string, error) {
	var binds []string

	initDir := strings.TrimRight(cfg.InitDir, "/")
	for i, script := range cfg.InitScripts {
		fi, err := os.Stat(script)
		if err != nil || !fi.Mode().IsRegular() {
			return nil, &ConfigError{Field: "init_scripts", Reason: fmt.Sprintf("not a file: %s", script)}
		}
		name := fmt.Sprintf("%02d-%s", i, filepath.Base(script))
		binds = append(binds, fmt.Sprintf("%s:%s/%s:ro", script, initDir, name))
	}

	for _, v := range cfg.Volumes {
		if _, err := os.Stat(v.HostPath); err != nil {
			return nil, &ConfigError{Field: "volumes", Reason: fmt.Sprintf("host path does not exist: %s", v.HostPath)}
		}
		spec := v.HostPath + ":" + v.ContainerPath
		if v.ReadOnly {
			spec += ":ro"
		}
		binds = append(binds, spec)
	}

	return binds, nil
}
