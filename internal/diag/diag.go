// Package diag exports a pprof-format snapshot of the scheduler's
// per-process CPU accounting, wired to the github.com/google/pprof
// profile encoder (biscuit imports github.com/google/pprof but never
// exercises it — this package gives it a home). Exposed to userspace as
// the /proc/profile virtual file (spec.md §9's virtual-file list plus
// this kernel's own addition).
package diag

import (
	"bytes"
	"strconv"

	"github.com/google/pprof/profile"

	"riscvkern/internal/accnt"
	"riscvkern/internal/defs"
)

// ProcessSample is the minimal per-process accounting diag needs, kept
// decoupled from internal/proc.Process so this package never imports the
// process model directly (diag only ever sees a read-only projection).
type ProcessSample struct {
	Pid   defs.Pid_t
	Accnt *accnt.Accnt_t
}

// Snapshot builds a profile.Profile with one sample per process, carrying
// two values (user ns, sys ns) tagged by pid — a pprof analogue of
// times(2)'s per-process rusage breakdown, aggregated across the whole
// runqueue instead of one process at a time.
func Snapshot(procs []ProcessSample) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "user", Unit: "nanoseconds"},
			{Type: "sys", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     1,
	}

	fn := &profile.Function{ID: 1, Name: "task", SystemName: "task"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 1}}}
	p.Function = []*profile.Function{fn}
	p.Location = []*profile.Location{loc}

	for _, ps := range procs {
		ps.Accnt.Lock()
		userNs, sysNs := ps.Accnt.Userns, ps.Accnt.Sysns
		ps.Accnt.Unlock()
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{userNs, sysNs},
			Label:    map[string][]string{"pid": {pidLabel(ps.Pid)}},
		})
	}
	return p
}

func pidLabel(pid defs.Pid_t) string {
	return strconv.FormatInt(int64(pid), 10)
}

// Encode serializes snapshot as a gzip-compressed pprof proto, the same
// bytes a real /proc/profile read would return.
func Encode(snap *profile.Profile) ([]byte, error) {
	var buf bytes.Buffer
	if err := snap.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
