// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestBindFlags_Types(t *testing.T) {
	type shared struct {
		Repo string `flag:"repo,r" desc:"repository"`
	}
	type params struct {
		shared
		JSONOutput
		Raw      bool          `flag:"raw"`
		Count    int           `flag:"count" default:"10"`
		Since    int64         `flag:"since"`
		Wait     time.Duration `flag:"wait" default:"1s"`
		Parents  []string      `flag:"parent"`
		Untagged string
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if p.Count != 10 || p.Wait != time.Second {
		t.Errorf("defaults not applied: %+v", p)
	}
	err := flagSet.Parse([]string{
		"-r", "main",
		"--json",
		"--raw",
		"--since", "1099511627776",
		"--parent", "aa",
		"--parent", "bb,cc",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Repo != "main" || !p.OutputJSON || !p.Raw || p.Since != 1099511627776 {
		t.Errorf("parsed = %+v", p)
	}
	if strings.Join(p.Parents, " ") != "aa bb cc" {
		t.Errorf("Parents = %v", p.Parents)
	}
	if flagSet.Lookup("untagged") != nil {
		t.Error("untagged field was bound")
	}
}

func TestBindFlags_Rejects(t *testing.T) {
	var notPointer struct{}
	if err := BindFlags(notPointer, pflag.NewFlagSet("t", pflag.ContinueOnError)); err == nil {
		t.Error("non-pointer params accepted")
	}

	var badDefault struct {
		Count int `flag:"count" default:"many"`
	}
	if err := BindFlags(&badDefault, pflag.NewFlagSet("t", pflag.ContinueOnError)); err == nil {
		t.Error("unparseable default accepted")
	}

	var unsupported struct {
		Ratio float32 `flag:"ratio"`
	}
	if err := BindFlags(&unsupported, pflag.NewFlagSet("t", pflag.ContinueOnError)); err == nil {
		t.Error("unsupported field type accepted")
	}
}

func TestJSONOutput_EmitJSON(t *testing.T) {
	var buffer bytes.Buffer
	saved := Stdout
	Stdout = &buffer
	defer func() { Stdout = saved }()

	output := JSONOutput{}
	if done, err := output.EmitJSON([]string{"x"}); done || err != nil {
		t.Fatalf("EmitJSON without --json = %v, %v", done, err)
	}
	if buffer.Len() != 0 {
		t.Fatalf("wrote %q without --json", buffer.String())
	}

	output.OutputJSON = true
	var empty []string
	if done, err := output.EmitJSON(empty); !done || err != nil {
		t.Fatalf("EmitJSON = %v, %v", done, err)
	}
	if strings.TrimSpace(buffer.String()) != "[]" {
		t.Errorf("nil slice written as %q", buffer.String())
	}
}
