package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

func TestRegistryProxy(t *testing.T) {
	err := exec.Command("go", "build", "registry-proxy.go").Run()
	if err != nil {
		t.Fatal("failed to build registry-proxy")
	}
	t.Cleanup(func() {
		os.Remove("registry-proxy")
	})

	ctx := context.Background()
	engine := &script.Engine{
		Conds: scripttest.DefaultConds(),
		Cmds:  Commands(),
		Quiet: !testing.Verbose(),
	}
	env := []string{
		"PATH=" + os.Getenv("PATH"),
	}
	scripttest.Test(t, ctx, engine, env, "../../testdata/scripts/*.txt")
}

// Commands returns the commands that can be used in the scripts.
// Each line of the scripts are <command> <args...>
// So "registry-proxy resolve --config proxy.yml" runs the built binary with
// args "resolve --config proxy.yml".
func Commands() map[string]script.Cmd {
	commands := scripttest.DefaultCmds()
	wd, _ := os.Getwd()
	registryProxy := filepath.Join(wd, "registry-proxy")

	commands["registry-proxy"] = script.Program(registryProxy, nil, 100*time.Millisecond)

	return commands
}
