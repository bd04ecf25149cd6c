package matchmaker

import "github.com/interactionlab/tandem/internal/domain/model"

// GroupReunion pairs the arrival with members of its most recent group, so
// a pair that played scene S1 together meets again in S2 even when
// unrelated participants queued ahead of them. With FallbackToFIFO a
// historyless arrival (or a failed reunion) falls back to plain FIFO;
// otherwise the arrival waits.
type GroupReunion struct {
	FallbackToFIFO bool
}

var _ Matchmaker = GroupReunion{}

func (GroupReunion) Name() string { return "group_reunion" }

func (m GroupReunion) FindMatch(arriving model.MatchCandidate, waiting []model.MatchCandidate, groupSize int) ([]model.MatchCandidate, bool) {
	if arriving.History != nil && len(arriving.History.PreviousPartners) > 0 {
		// Intersection keeps waitroom insertion order, the global tie-break.
		var partners []model.MatchCandidate
		for _, w := range waiting {
			if arriving.History.WasPartneredWith(w.SubjectID) {
				partners = append(partners, w)
			}
		}
		if len(partners) >= groupSize-1 {
			group := make([]model.MatchCandidate, 0, groupSize)
			group = append(group, partners[:groupSize-1]...)
			group = append(group, arriving)
			return group, true
		}
	}

	if m.FallbackToFIFO {
		return FIFO{}.FindMatch(arriving, waiting, groupSize)
	}
	return nil, false
}
