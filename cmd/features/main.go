// Command features walks a directory of Go source and reports its line
// count and how many allocation sites show up per thousand lines, the same
// static-analysis shape as biscuit's own scripts/features.go. That tool
// also counted goroutines, defers, closures, interfaces, type assertions
// and multi-value returns; this command keeps only the allocation-site
// report its own main printed (the rest were already commented out there)
// and moves it under cmd/ as a real subcommand instead of a build script.
package main

import (
	"bufio"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

type report struct {
	lineCount int
	allocs    []string
}

func isAppendCall(exprs []ast.Expr) bool  { return callNamed(exprs, "append") }
func isMakeCall(exprs []ast.Expr) bool    { return callNamed(exprs, "make") }
func isNewCall(exprs []ast.Expr) bool     { return callNamed(exprs, "new") }

func callNamed(exprs []ast.Expr, name string) bool {
	if len(exprs) == 0 {
		return false
	}
	call, ok := exprs[0].(*ast.CallExpr)
	if !ok {
		return false
	}
	fun, ok := call.Fun.(*ast.Ident)
	return ok && fun.Name == name
}

func isCompositeLitAlloc(exprs []ast.Expr) bool {
	if len(exprs) == 0 {
		return false
	}
	u, ok := exprs[0].(*ast.UnaryExpr)
	if !ok || u.Op != token.AND {
		return false
	}
	_, ok = u.X.(*ast.CompositeLit)
	return ok
}

func (r *report) visit(node ast.Node, fset *token.FileSet) bool {
	asg, ok := node.(*ast.AssignStmt)
	if !ok {
		return true
	}
	pos := fset.Position(node.Pos()).String()
	if isAppendCall(asg.Rhs) || isMakeCall(asg.Rhs) || isNewCall(asg.Rhs) || isCompositeLitAlloc(asg.Rhs) {
		r.allocs = append(r.allocs, pos)
	}
	return true
}

func (r *report) scanFile(path string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return err
	}
	ast.Inspect(f, func(node ast.Node) bool { return r.visit(node, fset) })

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	n, err := countLines(file)
	if err != nil {
		return err
	}
	r.lineCount += n
	return nil
}

func countLines(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	count := 0
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

func (r *report) perThousand(n int) float64 {
	if r.lineCount == 0 {
		return 0
	}
	return (float64(n) / float64(r.lineCount)) * 1000
}

func main() {
	if len(os.Args) != 2 {
		fmt.Println("features <path>")
		os.Exit(1)
	}
	r := &report{}
	err := filepath.Walk(os.Args[1], func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(strings.TrimSpace(path)) == ".go" {
			if serr := r.scanFile(path); serr != nil {
				log.Printf("%s: %v", path, serr)
			}
		}
		return nil
	})
	if err != nil {
		fmt.Printf("error %v\n", err)
	}

	fmt.Printf("Line count %d\n", r.lineCount)
	fmt.Printf("Allocs & %.2f \\\n", r.perThousand(len(r.allocs)))
}
