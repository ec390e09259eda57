// Package template macro-expands the instrumentation-program source against
// detector parameters and application metadata before load (spec §4.B).
//
// The rewriter is intentionally textual: it never parses the instrumentation
// program. Placeholders are resolved by straightforward substring scanning
// and replacement, the same way the teacher's bpf loader treats its embedded
// ELF object as an opaque byte blob rather than something to be understood —
// here the source template is opaque text, understood only well enough to
// find its macros.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/finelame/finelame/internal/fixedpoint"
)

// ApplicationMonitor describes one application-side monitor whose
// $(in_fn_name) placeholder must resolve to its RID argument position.
type ApplicationMonitor struct {
	// InFnName is the entry probe's function/symbol name, used verbatim as
	// the macro token name: "$(in_fn_name)".
	InFnName string

	// RIDPosition is the numeric probe-argument position carrying the
	// request id. Defaults to 1 (spec §4.B.5).
	RIDPosition int
}

// Params bundles everything the rewriter substitutes into the source.
type Params struct {
	// Debug controls whether $DEBUG_PRINTK expands to a printk built-in or
	// to the no-op literal token IGNORE.
	Debug bool

	// K is the number of clusters, substituted for $K.
	K int

	// MScale is used to splice $MSCALE(expr) occurrences.
	MScale fixedpoint.Scale

	// RIDType selects $RID_TYPE / $REQ_TYPE_FORMAT. One of "u32", "u64", "int".
	RIDType string

	// Applications lists every application monitor whose $(in_fn_name)
	// macro must be resolved to a RID position.
	Applications []ApplicationMonitor
}

// ridTypeFormats maps a configured RID type to its C type and matching
// printf conversion, per spec §4.B.4.
var ridTypeFormats = map[string]struct {
	cType string
	conv  string
}{
	"u32": {"u32", "u"},
	"u64": {"u64", "lu"},
	"int": {"int", "d"},
}

// Rewrite reads srcPath, performs the substitutions of spec §4.B in order,
// and writes the result to a sibling file with suffix "_rewritten"
// preserving the original extension. It returns the path written.
//
// Rewriting a file containing no "$..." tokens returns the input unchanged
// except for the destination path (idempotence on non-placeholders, spec
// §8).
func Rewrite(srcPath string, p Params) (string, error) {
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("template.Rewrite: read %q: %w", srcPath, err)
	}

	out, err := rewriteText(string(raw), p)
	if err != nil {
		return "", fmt.Errorf("template.Rewrite: %q: %w", srcPath, err)
	}

	dst := rewrittenPath(srcPath)
	if err := os.WriteFile(dst, []byte(out), 0o644); err != nil {
		return "", fmt.Errorf("template.Rewrite: write %q: %w", dst, err)
	}
	return dst, nil
}

// rewrittenPath computes "<dir>/<name>_rewritten<ext>" for a source path.
func rewrittenPath(srcPath string) string {
	dir := filepath.Dir(srcPath)
	ext := filepath.Ext(srcPath)
	base := strings.TrimSuffix(filepath.Base(srcPath), ext)
	return filepath.Join(dir, base+"_rewritten"+ext)
}

// rewriteText performs the five substitutions of spec §4.B, in order, over
// an in-memory string. Exported indirectly via Rewrite; kept separate for
// testability without touching the filesystem.
func rewriteText(src string, p Params) (string, error) {
	s := src

	// 1. $DEBUG_PRINTK
	if p.Debug {
		s = strings.ReplaceAll(s, "$DEBUG_PRINTK", "bpf_printk")
	} else {
		s = strings.ReplaceAll(s, "$DEBUG_PRINTK", "IGNORE")
	}

	// 2. $K
	s = strings.ReplaceAll(s, "$K", strconv.Itoa(p.K))

	// 3. $MSCALE(expr)
	s, err := spliceMSCALE(s, p.MScale)
	if err != nil {
		return "", err
	}

	// 4. $RID_TYPE / $REQ_TYPE_FORMAT
	fmts, ok := ridTypeFormats[p.RIDType]
	if !ok {
		return "", fmt.Errorf("unknown rid_type %q (must be one of u32, u64, int)", p.RIDType)
	}
	s = strings.ReplaceAll(s, "$RID_TYPE", fmts.cType)
	s = strings.ReplaceAll(s, "$REQ_TYPE_FORMAT", fmts.conv)

	// 5. $(m.in_fn_name) -> rid_position, per application monitor.
	for _, m := range p.Applications {
		pos := m.RIDPosition
		if pos == 0 {
			pos = 1
		}
		token := "$(" + m.InFnName + ")"
		s = strings.ReplaceAll(s, token, strconv.Itoa(pos))
	}

	return s, nil
}

// spliceMSCALE finds every "$MSCALE(" occurrence, locates its matching
// closing parenthesis (balancing nested parens in expr), and replaces the
// whole "$MSCALE(expr)" span with "(expr) * N " / "(expr) << N ". It never
// evaluates expr — only scans for the matching ")".
func spliceMSCALE(s string, scale fixedpoint.Scale) (string, error) {
	const macro = "$MSCALE("
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(s[i:], macro)
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		idx += i
		b.WriteString(s[i:idx])

		exprStart := idx + len(macro)
		depth := 1
		j := exprStart
		for ; j < len(s) && depth > 0; j++ {
			switch s[j] {
			case '(':
				depth++
			case ')':
				depth--
			}
		}
		if depth != 0 {
			return "", fmt.Errorf("unbalanced parentheses in $MSCALE(...) starting at offset %d", idx)
		}
		// j is one past the matching ')'.
		expr := s[exprStart : j-1]
		b.WriteString(scale.MSCALEText(expr))
		i = j
	}
	return b.String(), nil
}
