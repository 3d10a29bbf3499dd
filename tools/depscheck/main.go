package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePath = "github.com/bchoi12/birdtown-sub001"

type packageInfo struct {
	ImportPath string
	Imports    []string
}

// rule forbids packages under From from importing anything under To.
type rule struct {
	From string
	To   []string
}

// The replication core stays transport agnostic and the wire format stays
// independent of field semantics.
var rules = []rule{
	{From: "/internal/netcode", To: []string{"/internal/net", "/internal/app", "/internal/config"}},
	{From: "/internal/netcode/wire", To: []string{"/internal/netcode"}},
	{From: "/internal/netcode/history", To: []string{"/internal/netcode"}},
	{From: "/logging", To: []string{"/internal"}},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./internal/...", "./logging/...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	decoder := json.NewDecoder(bytes.NewReader(output))

	var violations []string
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
			os.Exit(1)
		}
		violations = append(violations, check(pkg)...)
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func check(pkg packageInfo) []string {
	var violations []string
	for _, r := range rules {
		if !within(pkg.ImportPath, modulePath+r.From) {
			continue
		}
		for _, imp := range pkg.Imports {
			for _, forbidden := range r.To {
				target := modulePath + forbidden
				// A rule never forbids the package's own subtree.
				if within(imp, target) && !within(imp, modulePath+r.From) {
					violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
				}
			}
		}
	}
	return violations
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}
