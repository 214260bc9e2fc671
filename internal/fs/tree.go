package fs

import (
	"sort"
	"sync"

	"riscvkern/internal/defs"
	"riscvkern/internal/fatfs"
	"riscvkern/internal/ustr"
)

// Kind enumerates the payload an Inode carries (spec.md §4.7: "an enum
// payload selecting among {FAT file handle, FAT directory handle,
// virtual file, virtual directory, none}").
type Kind int

const (
	KindNone Kind = iota
	KindFatFile
	KindFatDir
	KindVirtFile
	KindVirtDir
)

// Inode is one node of the in-memory tree that mirrors the FAT root at
// mount time (spec.md §4.7). Parent is conceptually a weak reference —
// Go's GC makes that non-observable, so it is a plain pointer, the same
// simplification biscuit's Process/Task cycle writeup (spec.md §9)
// accepts for its own weak/strong distinctions.
type Inode struct {
	mu       sync.Mutex
	Name     string
	Parent   *Inode
	Children []*Inode
	Kind     Kind

	// KindFatFile / KindVirtFile payload.
	data []byte
	// KindFatDir / KindVirtDir / regular directories carry no payload
	// beyond Children; fatPath records the original FAT path for lazy
	// re-reads via the mounted fatfs.Filesystem.
	fatPath string
}

// Tree is the in-memory file tree mirroring the mounted FAT filesystem
// (spec.md §4.7).
type Tree struct {
	mu   sync.Mutex
	root *Inode
	fat  fatfs.Filesystem
}

// Mount builds the initial tree by listing fat's root directory. Deeper
// directories are populated lazily on first lookup or listing, the same way the
// source kernel avoids walking the whole FAT tree eagerly.
func Mount(fat fatfs.Filesystem) (*Tree, error) {
	root := &Inode{Name: "/", Kind: KindFatDir, fatPath: "/"}
	t := &Tree{root: root, fat: fat}
	if err := t.populateDir(root); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) populateDir(dir *Inode) error {
	ents, err := t.fat.ReadDir(dir.fatPath)
	if err != nil {
		return err
	}
	dir.Children = dir.Children[:0]
	for _, e := range ents {
		child := &Inode{Name: e.Name, Parent: dir, fatPath: joinPath(dir.fatPath, e.Name)}
		if e.IsDir {
			child.Kind = KindFatDir
		} else {
			child.Kind = KindFatFile
		}
		dir.Children = append(dir.Children, child)
	}
	sort.Slice(dir.Children, func(i, j int) bool { return dir.Children[i].Name < dir.Children[j].Name })
	return nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// Root returns the tree's root inode, used to build the rootCwd.
func (t *Tree) Root() *Inode { return t.root }

// Resolve implements the path-resolution rules spec.md §4.7 describes:
// resolve '.' and '..', split on '/', and either return an existing
// node, create a VirtFile child if create is true, or fail with
// FileNotFound.
func (t *Tree) Resolve(from *Inode, path ustr.Ustr, create bool) (*Inode, defs.Err_t) {
	cur := from
	if path.IsAbsolute() {
		cur = t.root
	}
	for _, comp := range path.Split() {
		name := comp.String()
		switch {
		case comp.Isdot():
			continue
		case comp.Isdotdot():
			if cur.Parent != nil {
				cur = cur.Parent
			}
			continue
		}
		next := t.lookupChild(cur, name)
		if next == nil {
			if create && isLast(path, comp) {
				next = &Inode{Name: name, Parent: cur, Kind: KindVirtFile}
				cur.mu.Lock()
				cur.Children = append(cur.Children, next)
				cur.mu.Unlock()
			} else {
				return nil, defs.FileNotFound
			}
		}
		cur = next
	}
	return cur, 0
}

func isLast(path ustr.Ustr, comp ustr.Ustr) bool {
	parts := path.Split()
	return len(parts) > 0 && parts[len(parts)-1].Eq(comp)
}

// lookupChild finds name among dir's children after Unicode normalization,
// so a filename written in NFD form still resolves against an entry
// recorded in NFC (or vice versa), matching ustr.Ustr.Eq's comparison
// rule.
func (t *Tree) lookupChild(dir *Inode, name string) *Inode {
	if dir.Kind == KindFatDir && dir.Children == nil {
		t.populateDir(dir)
	}
	dir.mu.Lock()
	defer dir.mu.Unlock()
	target := ustr.Ustr(name)
	for _, c := range dir.Children {
		if ustr.Ustr(c.Name).Eq(target) {
			return c
		}
	}
	return nil
}

// Mkdir creates a VirtDir child of dir named name if it does not already
// exist; mkdirat is idempotent per spec.md §4.5 #34/35.
func (t *Tree) Mkdir(dir *Inode, name string) (*Inode, defs.Err_t) {
	if existing := t.lookupChild(dir, name); existing != nil {
		return existing, 0
	}
	child := &Inode{Name: name, Parent: dir, Kind: KindVirtDir}
	dir.mu.Lock()
	dir.Children = append(dir.Children, child)
	dir.mu.Unlock()
	return child, 0
}

// Unlink removes name from dir's children.
func (t *Tree) Unlink(dir *Inode, name string) defs.Err_t {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	for i, c := range dir.Children {
		if c.Name == name {
			dir.Children = append(dir.Children[:i], dir.Children[i+1:]...)
			return 0
		}
	}
	return defs.FileNotFound
}

// Link creates a new node pointing at the same payload as src, as
// spec.md §4.7 describes ("Link is implemented by creating a new node
// pointing at the same payload").
func (t *Tree) Link(dir *Inode, name string, src *Inode) defs.Err_t {
	n := &Inode{Name: name, Parent: dir, Kind: src.Kind, data: src.data, fatPath: src.fatPath}
	dir.mu.Lock()
	dir.Children = append(dir.Children, n)
	dir.mu.Unlock()
	return 0
}

// Open returns FileOps for inode, lazily materializing FAT file content
// on first access.
func (t *Tree) Open(n *Inode) (FileOps, defs.Err_t) {
	switch n.Kind {
	case KindFatFile:
		n.mu.Lock()
		if n.data == nil {
			b, err := t.fat.ReadFile(n.fatPath)
			if err != nil {
				n.mu.Unlock()
				return nil, defs.FileNotFound
			}
			n.data = b
		}
		n.mu.Unlock()
		return &RegularFile{inode: n}, 0
	case KindVirtFile:
		return &RegularFile{inode: n}, 0
	case KindFatDir, KindVirtDir:
		return &DirFile{tree: t, inode: n}, 0
	default:
		return nil, defs.FileNotFound
	}
}

// RegularFile exposes an Inode's byte content as FileOps, both readable
// and writable (grows on write past current length).
type RegularFile struct {
	inode *Inode
}

func (r *RegularFile) Readable() bool { return true }
func (r *RegularFile) Writable() bool { return true }
func (r *RegularFile) Size() int64 {
	r.inode.mu.Lock()
	defer r.inode.mu.Unlock()
	return int64(len(r.inode.data))
}
func (r *RegularFile) Reopen() defs.Err_t { return 0 }
func (r *RegularFile) Close() defs.Err_t  { return 0 }

func (r *RegularFile) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	r.inode.mu.Lock()
	defer r.inode.mu.Unlock()
	if off >= int64(len(r.inode.data)) {
		return 0, 0
	}
	n := copy(buf, r.inode.data[off:])
	return n, 0
}

func (r *RegularFile) WriteAt(buf []byte, off int64) (int, defs.Err_t) {
	r.inode.mu.Lock()
	defer r.inode.mu.Unlock()
	end := off + int64(len(buf))
	if end > int64(len(r.inode.data)) {
		grown := make([]byte, end)
		copy(grown, r.inode.data)
		r.inode.data = grown
	}
	copy(r.inode.data[off:], buf)
	return len(buf), 0
}

func (r *RegularFile) Bytes() []byte {
	r.inode.mu.Lock()
	defer r.inode.mu.Unlock()
	return r.inode.data
}

// DirFile exposes an Inode's children for getdents (spec.md §4.5 #61).
type DirFile struct {
	tree  *Tree
	inode *Inode
}

// Inode exposes the directory's backing Inode, used by callers that need
// to resolve further paths relative to an open directory fd (spec.md
// §4.5 #34/35's dir_fd argument).
func (d *DirFile) Inode() *Inode { return d.inode }

func (d *DirFile) Readable() bool { return true }
func (d *DirFile) Writable() bool { return false }
func (d *DirFile) Size() int64    { return 0 }
func (d *DirFile) Reopen() defs.Err_t { return 0 }
func (d *DirFile) Close() defs.Err_t  { return 0 }
func (d *DirFile) ReadAt(buf []byte, off int64) (int, defs.Err_t) { return 0, defs.NotRWFile }
func (d *DirFile) WriteAt(buf []byte, off int64) (int, defs.Err_t) { return 0, defs.NotRWFile }

// Entries returns one DirEntry per child; an empty directory returns no
// entries (spec.md §8: "getdents on an empty directory returns 0 bytes
// written").
func (d *DirFile) Entries() []DirEntry {
	if d.inode.Kind == KindFatDir && d.inode.Children == nil {
		d.tree.populateDir(d.inode)
	}
	d.inode.mu.Lock()
	defer d.inode.mu.Unlock()
	out := make([]DirEntry, 0, len(d.inode.Children))
	for i, c := range d.inode.Children {
		typ := uint8(DtReg)
		if c.Kind == KindFatDir || c.Kind == KindVirtDir {
			typ = DtDir
		}
		out = append(out, DirEntry{Ino: uint64(i + 1), Type: typ, Name: c.Name})
	}
	return out
}
