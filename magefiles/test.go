//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs every unit test.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Runs every unit test with the race detector.
func (Test) Race() error {
	_, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./..."), withStream())
	return err
}

// Runs the resource manager tests only, verbosely.
func (Test) Resources() error {
	_, err := executeCmd("go", withArgs("test", "-v", "./..."), withDir("engine/resources"), withStream())
	return err
}
