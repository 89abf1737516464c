// Command dtcg drives the code generator over a fixed set of demonstration
// clauses and dumps the resulting disassembly. Driving it from real,
// upstream-parsed clauses is a matter of supplying a ctf.Provider/idtab.Table
// pair and a clause slice in place of demoClauses; parsing tracing-language
// source is out of scope for this command.
package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"

	"dtcg/src/cg"
	"dtcg/src/util"
)

func run(opt util.Options) ([]cg.ClauseResult, error) {
	clauses, ctfp, tab := demoClauses()
	probes := make([]*cg.ProbeInfo, len(clauses))
	results := cg.CompileAll(clauses, ctfp, tab, probes, opt)
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("%d of %d clauses failed to compile", failed, len(results))
	}
	return results, nil
}

func main() {
	opt, err := util.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Printf("command line argument error: %s\n", err)
		os.Exit(1)
	}

	wg := sync.WaitGroup{}
	var out *os.File
	if opt.Out != "" {
		f, err := os.OpenFile(opt.Out, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	util.ListenDump(opt.Threads, out, &wg)

	results, runErr := run(opt)

	w := util.NewWriter()
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	for i, r := range results {
		if r.Err != nil {
			w.Write("clause %d: %s\n", i, bad(r.Err.Error()))
			continue
		}
		if opt.Verbose {
			w.Write("clause %d: %s\n%s", i, ok("compiled"), r.List.String())
		}
	}
	w.Close()
	util.CloseDump()
	wg.Wait()

	if runErr != nil {
		fmt.Printf("error: %s\n", runErr)
		os.Exit(1)
	}
}
