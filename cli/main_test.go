package main

import (
	"context"
	"testing"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
)

func TestRunUnknownCommand(t *testing.T) {
	if err := flag.CommandLine.Parse([]string{"frobnicate"}); err != nil {
		t.Fatal(err)
	}
	err := run(context.Background())
	if !errors.IsNotFound(err) {
		t.Fatalf("got %v, want a not found error", err)
	}
	if got, want := err.Error(), `command "frobnicate" not found`; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
