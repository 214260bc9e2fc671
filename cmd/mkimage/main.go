// Command mkimage walks a host skeleton directory and prints the manifest
// that directory would produce once mounted: the same "copy a skeleton
// tree into the boot filesystem" job biscuit's mkfs performed, narrowed
// from writing a new on-disk UFS image to inspecting what
// fatfs.Memory.PopulateFromDir would build, since spec.md puts the
// on-disk FAT format itself out of scope ("assumed provided by a
// library") — there is no image format here for mkimage to write.
package main

import (
	"fmt"
	"os"
	"sort"

	"riscvkern/internal/fatfs"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: mkimage <skeleton-dir>\n")
		os.Exit(1)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "mkimage: %v\n", err)
		os.Exit(1)
	}
}

func run(dir string) error {
	m := fatfs.NewMemory()
	if err := m.PopulateFromDir(dir); err != nil {
		return err
	}
	return printManifest(m, "/")
}

func printManifest(m *fatfs.Memory, path string) error {
	ents, err := m.ReadDir(path)
	if err != nil {
		return err
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].Name < ents[j].Name })
	for _, e := range ents {
		child := path + e.Name
		if e.IsDir {
			fmt.Printf("%s/\n", child)
			if err := printManifest(m, child+"/"); err != nil {
				return err
			}
			continue
		}
		fmt.Printf("%s\t%d bytes\n", child, e.Size)
	}
	return nil
}
