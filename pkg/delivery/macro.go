package delivery

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dts-project/dts/pkg/types"
)

// deliveryName returns the filename a slot should be delivered under:
// the control record's override if set, otherwise the original filename.
func deliveryName(ctrl *types.ControlRecord) string {
	if ctrl.DeliveryName != "" {
		return ctrl.DeliveryName
	}
	return ctrl.Filename
}

// buildMacros constructs the substitution table for one delivery command
// invocation. finalPath is the already-resolved destination path for $D,
// accounting for the queue's delivery policy (see resolvePlacement).
func buildMacros(q *types.Queue, slotPath, finalPath string, ctrl *types.ControlRecord) map[string]string {
	m := map[string]string{
		"F":     filepath.Join(slotPath, ctrl.Filename),
		"D":     finalPath,
		"Q":     q.Name,
		"QP":    ctrl.QueuePath,
		"SUM32": fmt.Sprintf("%08x", ctrl.Sum32),
		"CRC32": fmt.Sprintf("%08x", ctrl.CRC32),
		"MD5":   ctrl.MD5,
		"FULL":  ctrl.IngestPath,
		"ON":    ctrl.Filename,
		"OP":    filepath.Dir(ctrl.SrcPath),
		"DN":    deliveryName(ctrl),
		"DP":    q.DeliveryDir,
		"SP":    ctrl.SrcPath,
		"OH":    ctrl.QueueHost,
		"S":     fmt.Sprintf("%d", ctrl.FileSize),
		"E":     fmt.Sprintf("%d", ctrl.IngestEpoch),
	}
	// Arbitrary parameters substitute first,
	// so a parameter sharing a built-in's name wins.
	for _, p := range ctrl.Params {
		m[p.Key] = p.Value
	}
	return m
}

// expandArgv splits template on whitespace into argv, substituting each
// macro token with its value as a single argv element (so a parameter
// value containing spaces, e.g. "bar baz", survives as one argument
// rather than being re-split).
func expandArgv(template string, macros map[string]string) []string {
	fields := strings.Fields(template)
	argv := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 && f[0] == '$' {
			if val, ok := macros[f[1:]]; ok {
				argv = append(argv, val)
				continue
			}
		}
		argv = append(argv, substituteInline(f, macros))
	}
	return argv
}

// substituteInline replaces embedded "$name" occurrences within a single
// argv token, longest macro name first so "$ON" isn't shadowed by a
// hypothetical "$O".
func substituteInline(field string, macros map[string]string) string {
	if !strings.Contains(field, "$") {
		return field
	}
	keys := make([]string, 0, len(macros))
	for k := range macros {
		keys = append(keys, k)
	}
	// insertion-sort by descending length; macro tables are small.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && len(keys[j]) > len(keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	var b strings.Builder
	for i := 0; i < len(field); {
		if field[i] != '$' {
			b.WriteByte(field[i])
			i++
			continue
		}
		matched := false
		for _, k := range keys {
			if strings.HasPrefix(field[i+1:], k) {
				b.WriteString(macros[k])
				i += 1 + len(k)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(field[i])
			i++
		}
	}
	return b.String()
}
