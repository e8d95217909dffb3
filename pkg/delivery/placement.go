package delivery

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dts-project/dts/pkg/dtserr"
	"github.com/dts-project/dts/pkg/types"
)

// resolvePlacement decides the final delivery path for baseName under dir
// according to policy, before the delivery command runs, so the command's
// $D macro already reflects the collision-resolved name.
func resolvePlacement(dir, baseName string, policy types.DeliveryPolicy) (string, error) {
	path := filepath.Join(dir, baseName)

	switch policy {
	case types.DeliveryReplace:
		return path, nil

	case types.DeliveryNumber:
		if !exists(path) {
			return path, nil
		}
		for n := 1; ; n++ {
			candidate := filepath.Join(dir, fmt.Sprintf("%s.%d", baseName, n))
			if !exists(candidate) {
				return candidate, nil
			}
		}

	case types.DeliveryOriginal:
		if exists(path) {
			return "", fmt.Errorf("%w: %s already exists under original delivery policy", dtserr.ErrDeliveryFailed, path)
		}
		return path, nil

	default:
		return path, nil
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
