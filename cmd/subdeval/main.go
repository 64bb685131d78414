// Command subdeval refines meshes and evaluates their limit surfaces.
//
//	subdeval eval --shape cube --level 3 --adaptive --png cube.png
//	subdeval bench --backend parallel --instances 8 --iterations 100
//	subdeval patchmap --mesh torus.yaml
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gogpu/subd/cmd/subdeval/commands"

	_ "github.com/gogpu/subd/backend/parallel"
	_ "github.com/gogpu/subd/backend/wgpu"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := commands.New()
	cli.SetArgs(args)
	cli.SetOutput(stdout, stderr)
	if err := cli.Execute(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error: "+err.Error())
		return 1
	}
	return 0
}
