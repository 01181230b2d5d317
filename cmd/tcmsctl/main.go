// Command tcmsctl inspects and edits plans, cases and runs on a TCMS server
// through the cached object model.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ctx := context.Background()
	cmd := newApp(os.Stdout, os.Stderr, nil).command()
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
