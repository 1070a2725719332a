package uitree

import "fmt"

// PageType is the screen category a snapshot is classified as.
type PageType int

const (
	PageUnknown PageType = iota
	PageHome
	PageMessages
	PageFollowRecommendations
	PageSettings
)

func (p PageType) String() string {
	switch p {
	case PageUnknown:
		return "unknown"
	case PageHome:
		return "home"
	case PageMessages:
		return "messages"
	case PageFollowRecommendations:
		return "follow_recommendations"
	case PageSettings:
		return "settings"
	}
	return fmt.Sprintf("PageType(%d)", int(p))
}

// Detection is the result of classifying one snapshot.
type Detection struct {
	Page     PageType
	Score    int
	Evidence []string
	Scores   map[PageType]int
}

// detectionOrder also serves as the tie-break priority: the more specific page wins.
var detectionOrder = []PageType{PageFollowRecommendations, PageMessages, PageHome, PageSettings}

// DetectPageType scores the snapshot against the lexicon's page strings plus two
// structural cues: a bottom navigation bar favours Home, and two or more follow
// controls favour FollowRecommendations. Page strings must equal a whole label, so
// "关注" inside "小明 关注了你" is no evidence. Unknown is returned when nothing scores.
func DetectPageType(s *Snapshot, lex Lexicon, epsilon int) Detection {
	d := Detection{Scores: make(map[PageType]int)}
	evidence := make(map[PageType][]string)

	for _, p := range detectionOrder {
		for _, str := range lex.pageStrings(p) {
			if len(s.FindByText([]string{str}, true)) > 0 {
				d.Scores[p]++
				evidence[p] = append(evidence[p], str)
			}
		}
	}

	followControls := len(s.FindActionableButtons(append(append([]string(nil), lex.FollowLabels...), lex.FollowedLabels...), epsilon))
	navTabs := 0
	for _, tab := range lex.NavTabs {
		if len(s.FindByText([]string{tab}, true)) > 0 {
			navTabs++
		}
	}

	if followControls >= 2 {
		d.Scores[PageFollowRecommendations] += 2
		evidence[PageFollowRecommendations] = append(evidence[PageFollowRecommendations], fmt.Sprintf("structure:follow-controls=%d", followControls))
	} else if navTabs >= 2 {
		d.Scores[PageHome]++
		evidence[PageHome] = append(evidence[PageHome], fmt.Sprintf("structure:nav-tabs=%d", navTabs))
	}

	for _, p := range detectionOrder {
		if d.Scores[p] > d.Score {
			d.Page = p
			d.Score = d.Scores[p]
		}
	}
	if d.Page != PageUnknown {
		d.Evidence = evidence[d.Page]
	}
	return d
}
