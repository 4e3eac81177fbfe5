//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the engine against ./assets, or against ANIMA_CONFIG when set.
func (Run) Engine() error {
	mg.Deps(Build.Cli)

	args := []string{"--mount", "assets=assets"}
	if cfg := os.Getenv("ANIMA_CONFIG"); cfg != "" {
		args = []string{"--config", cfg}
	}
	fmt.Println("Run engine...")
	if _, err := executeCmd("./bin/anima", withArgs(args...), withStream()); err != nil {
		return err
	}
	return nil
}
