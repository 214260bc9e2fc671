// Command syscalltab statically verifies that every SysXxx constant in
// internal/syscall is referenced in at least one function body of that
// package, catching the case where a new syscall number is declared but
// never used. It does not check that the reference sits in
// Kernel.Dispatch's switch. Grounded on
// misc/depgraph/main.go's introspect-the-build shape, but swaps its
// `go mod graph` shell-out for golang.org/x/tools/go/packages' loader
// and go/ast/go/types walk, since what needs introspecting here is the
// package's own syntax tree rather than the module graph.
package main

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/types"
	"os"

	"golang.org/x/tools/go/packages"
)

const pkgPath = "riscvkern/internal/syscall"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "syscalltab:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedSyntax,
	}
	pkgs, err := packages.Load(cfg, pkgPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", pkgPath, err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return fmt.Errorf("package %s has errors", pkgPath)
	}
	if len(pkgs) != 1 {
		return fmt.Errorf("expected exactly one package for %s, got %d", pkgPath, len(pkgs))
	}
	pkg := pkgs[0]

	numbers := collectSyscallConstants(pkg)
	referenced := collectDispatchReferences(pkg)

	var missing []string
	for name := range numbers {
		if !referenced[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%d syscall constant(s) never referenced by Dispatch: %v", len(missing), missing)
	}
	fmt.Printf("syscalltab: %d syscall numbers all wired into Dispatch\n", len(numbers))
	return nil
}

// collectSyscallConstants returns every package-level integer constant
// whose name starts with "Sys" (spec.md §4.5's SysXxx naming), mapping
// name to its numeric value.
func collectSyscallConstants(pkg *packages.Package) map[string]int64 {
	out := map[string]int64{}
	scope := pkg.Types.Scope()
	for _, name := range scope.Names() {
		if len(name) < 3 || name[:3] != "Sys" {
			continue
		}
		obj, ok := scope.Lookup(name).(*types.Const)
		if !ok {
			continue
		}
		v := obj.Val()
		if v.Kind() != constant.Int {
			continue
		}
		n, ok := constant.Int64Val(v)
		if !ok {
			continue
		}
		out[name] = n
	}
	return out
}

// collectDispatchReferences walks every *ast.Ident inside a function
// body (never inside the const declarations themselves, which would
// trivially count as "used") and records identifiers whose name
// matches a SysXxx constant — good enough to confirm a number is used
// somewhere in the dispatch table without having to special-case
// switch/case syntax.
func collectDispatchReferences(pkg *packages.Package) map[string]bool {
	refs := map[string]bool{}
	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Body == nil {
				continue
			}
			ast.Inspect(fn.Body, func(n ast.Node) bool {
				id, ok := n.(*ast.Ident)
				if !ok {
					return true
				}
				if len(id.Name) >= 3 && id.Name[:3] == "Sys" {
					refs[id.Name] = true
				}
				return true
			})
		}
	}
	return refs
}
