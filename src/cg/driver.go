package cg

import (
	"sync"

	"dtcg/src/ast"
	"dtcg/src/ctf"
	"dtcg/src/idtab"
	"dtcg/src/isa"
	"dtcg/src/util"
)

// CompileClause is the per-clause compilation driver of spec.md §4.9: reset
// the context, set up translator-input register plumbing if the root is a
// translator body, emit the root, free its result register, append the
// program-exit instruction, and tear down translator-input plumbing. It
// refuses to compile a root whose type is dynamic (ast.FlagDynamic).
func CompileClause(c *Context, root *ast.Node) error {
	c.Reset()

	if root.Has(ast.FlagDynamic) {
		return fault(Dyn, root, "refusing to compile a clause with dynamic root type")
	}

	var translatorInput *idtab.Descriptor
	if root.Op == ast.TranslatorBody && root.Translator != nil {
		translatorInput = root.Translator.Input
		reg, err := c.alloc(root)
		if err != nil {
			return err
		}
		translatorInput.BindReg(reg)
	}

	reg, err := c.Emit(root)
	if err != nil {
		if translatorInput != nil {
			translatorInput.UnbindReg()
		}
		return err
	}
	c.Regs.Free(reg)

	c.List.Append(isa.Word{Op: isa.Exit})

	if translatorInput != nil {
		c.Regs.Free(translatorInput.CGReg)
		translatorInput.UnbindReg()
	}

	return c.List.Finalize()
}

// ClauseResult pairs a clause with its compiled instruction list, or the
// fault that aborted it.
type ClauseResult struct {
	Clause *ast.Node
	List   *InstrList
	Err    error
}

// CompileAll is the supplemented parallel batch driver (spec.md §6.1): it
// fans clauses out across a worker pool, each with a private Context as
// spec.md §5 requires, and collects every fault through util.Perror rather
// than letting one clause's failure abort the others. Grounded on the
// teacher's AllocateRegisters parallel fan-out in backend/lir/regalloc.go.
func CompileAll(clauses []*ast.Node, ctfp ctf.Provider, ids idtab.Table, probes []*ProbeInfo, opt util.Options) []ClauseResult {
	results := make([]ClauseResult, len(clauses))
	errs := util.NewPerror(len(clauses))

	threads := opt.Threads
	if threads < 1 {
		threads = 1
	}
	if threads > len(clauses) {
		threads = len(clauses)
	}
	if threads == 0 {
		return results
	}

	work := make(chan int)
	var wg sync.WaitGroup
	wg.Add(threads)
	for w := 0; w < threads; w++ {
		go func() {
			defer wg.Done()
			var probe *ProbeInfo
			c := NewContext(ctfp, ids, probe, opt)
			for i := range work {
				if i < len(probes) {
					c.Probe = probes[i]
				} else {
					c.Probe = nil
				}
				err := CompileClause(c, clauses[i])
				results[i] = ClauseResult{Clause: clauses[i], List: c.List, Err: err}
				if err != nil {
					errs.Append(err)
				}
			}
		}()
	}
	for i := range clauses {
		work <- i
	}
	close(work)
	wg.Wait()
	errs.Stop()

	return results
}
