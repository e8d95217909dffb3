package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dts-project/dts/pkg/control"
	"github.com/dts-project/dts/pkg/dtserr"
	"github.com/dts-project/dts/pkg/log"
	"github.com/dts-project/dts/pkg/types"
	"github.com/rs/zerolog"
)

// Outcome classifies a delivery attempt's effect on the slot and the
// queue.
type Outcome int

const (
	// OutcomeSuccess means the slot may advance normally.
	OutcomeSuccess Outcome = iota
	// OutcomeMinor means the command reported a minor problem (exit 1);
	// the slot still advances and counts as delivered.
	OutcomeMinor
	// OutcomeObjectFailed means the command reported a fatal object
	// error (exit 2); the caller must mark the slot ERR.
	OutcomeObjectFailed
	// OutcomeQueuePause means the command reported a fatal queue error
	// (exit 3); the caller must pause the queue.
	OutcomeQueuePause
	// OutcomeUnknown means the command exited with an unrecognized
	// status; logged as an error but treated like OutcomeMinor so a
	// single unexpected exit code doesn't wedge the queue.
	OutcomeUnknown
)

const parfileSuffix = ".par"

// Deliver runs q's delivery command against the object in slotPath,
// carrying ctrl, and returns the resulting Outcome. It is a no-op
// returning OutcomeSuccess if the queue has no configured delivery
// command (a mid-graph transfer queue with no local delivery step).
func Deliver(ctx context.Context, q *types.Queue, slotPath string, ctrl *types.ControlRecord) (Outcome, error) {
	logger := log.WithComponent("delivery").With().Str("queue", q.Name).Str("slot", filepath.Base(slotPath)).Logger()

	if q.DeliveryCmd == "" {
		return OutcomeSuccess, nil
	}

	name := deliveryName(ctrl)
	finalPath, err := resolvePlacement(q.DeliveryDir, name, q.DeliveryPolicy)
	if err != nil {
		return OutcomeObjectFailed, err
	}
	if q.DeliveryPolicy == types.DeliveryReplace && exists(finalPath) {
		if err := os.Remove(finalPath); err != nil {
			return OutcomeObjectFailed, fmt.Errorf("delivery: replace %s: %w", finalPath, err)
		}
	}

	macros := buildMacros(q, slotPath, finalPath, ctrl)
	argv := expandArgv(q.DeliveryCmd, macros)

	res, err := runCommand(ctx, argv, slotPath)
	if err != nil {
		return OutcomeObjectFailed, fmt.Errorf("%w: %v", dtserr.ErrDeliveryFailed, err)
	}

	switch res.ExitCode {
	case 0:
		// fall through to parfile absorption below.
	case 1:
		logger.Warn().Int("exit", 1).Str("stderr", res.Stderr).Msg("delivery command reported a minor problem")
		absorbParfile(logger, q, slotPath, ctrl)
		return OutcomeMinor, nil
	case 2:
		logger.Error().Int("exit", 2).Str("stderr", res.Stderr).Msg("delivery command failed fatally for this object")
		return OutcomeObjectFailed, fmt.Errorf("%w: delivery command exited 2", dtserr.ErrDeliveryFailed)
	case 3:
		logger.Error().Int("exit", 3).Str("stderr", res.Stderr).Msg("delivery command failed fatally for the queue")
		return OutcomeQueuePause, fmt.Errorf("%w: delivery command exited 3", dtserr.ErrDeliveryFailed)
	default:
		logger.Error().Int("exit", res.ExitCode).Str("stderr", res.Stderr).Msg("delivery command exited with an unrecognized status")
		absorbParfile(logger, q, slotPath, ctrl)
		return OutcomeUnknown, nil
	}

	absorbParfile(logger, q, slotPath, ctrl)
	return OutcomeSuccess, nil
}

// absorbParfile loads <queueName>.par from the slot, if present, into
// ctrl. A missing or unreadable parfile is not an error — it's
// optional.
func absorbParfile(logger zerolog.Logger, q *types.Queue, slotPath string, ctrl *types.ControlRecord) {
	path := filepath.Join(slotPath, q.Name+parfileSuffix)
	if !exists(path) {
		return
	}
	if err := control.AbsorbParfile(ctrl, path); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to absorb parfile")
	}
}
