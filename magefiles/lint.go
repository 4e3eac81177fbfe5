//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Lint mg.Namespace

// Runs go vet and checks formatting.
func (Lint) Vet() error {
	if _, err := executeCmd("go", withArgs("vet", "./...")); err != nil {
		return err
	}
	out, err := executeCmd("gofmt", withArgs("-l", "engine", "testbed", "magefiles", "main.go"))
	if err != nil {
		return err
	}
	if out != "" {
		return fmt.Errorf("files need gofmt:\n%s", out)
	}
	return nil
}
