package audit

import (
	"fmt"

	"github.com/interactionlab/tandem/internal/domain/model"
)

// Replay reloads a finalized audit document and re-runs parity validation
// from the stored exports. The recomputed report is authoritative: it
// verifies that the artifact on disk still supports the stored verdict.
func Replay(dataDir, experimentID string, sessionID model.SessionID) (Report, error) {
	w := NewWriter(dataDir, experimentID)

	var doc Document
	if err := w.ReadAudit(sessionID, &doc); err != nil {
		return Report{}, err
	}

	report := ValidateParity(sessionID, doc.Expected, doc.Exports)
	if report.Result != doc.Parity.Result {
		return report, fmt.Errorf("stored verdict %s does not reproduce: got %s",
			doc.Parity.Result, report.Result)
	}
	return report, nil
}
