// -----------------------------------------------------------------------
// Experiment Bucketer - deterministic variant assignment from a hash
// of (anonId, experimentKey)
// -----------------------------------------------------------------------

package experiments

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ternarybob/nuntius/internal/models"
)

// bucketOf maps a (user, experiment) pair onto 0..99. The lower 16
// bits of sha256(anonId|experimentKey) mod 100 keep the assignment
// stable for the experiment's lifetime.
func bucketOf(anonID, experimentKey string) int {
	sum := sha256.Sum256([]byte(anonID + "|" + experimentKey))
	lower := binary.BigEndian.Uint16(sum[len(sum)-2:])
	return int(lower % 100)
}

// variantFor walks the cumulative allocation in variant order.
func variantFor(experiment *models.Experiment, bucket int) string {
	cumulative := 0
	for _, variant := range experiment.Variants {
		cumulative += experiment.Allocation[variant]
		if bucket < cumulative {
			return variant
		}
	}
	return models.VariantControl
}
