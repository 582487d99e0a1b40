// Command sqllint checks that every inline SQL constant starts with a
// unique "--sql <uuid>" marker. The runner tags query logs with the marker,
// so a missing or reused marker makes slow-query reports ambiguous.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"internal/sqlinline"}
	}

	report, err := lintPaths(targets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
		os.Exit(1)
	}
	if len(report.Violations) > 0 {
		fmt.Fprintf(os.Stderr, "sqllint: %d problem(s) in %d queries\n", len(report.Violations), report.Queries)
		for _, v := range report.Violations {
			fmt.Fprintf(os.Stderr, "  %s\n", v)
		}
		os.Exit(1)
	}
	fmt.Printf("sqllint: %d queries ok\n", report.Queries)
}
