package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"retrotrack/internal/diff"
	"retrotrack/internal/sink"
)

// Colors are plain RGB ints; sinks decide how (or whether) to use them.
const (
	colorGood    = 0x2ecc71
	colorNeutral = 0x3498db
	colorBad     = 0xe67e22
	colorGold    = 0xf1c40f
)

// render turns an event into the destination-agnostic payload. No chat markup
// here: sinks own presentation.
func render(ev diff.Event) sink.Payload {
	p := sink.Payload{
		ObservedAt: ev.ObservedAt,
		Fields: []sink.Field{
			{Name: "subject", Value: ev.SubjectKey},
			{Name: "entity", Value: ev.EntityID},
		},
	}

	switch ev.Kind {
	case diff.KindEnteredTopK:
		p.Title = fmt.Sprintf("%s entered the top ranks at #%d", ev.SubjectKey, ev.NewRank)
		p.Color = colorGood
	case diff.KindRankImproved:
		p.Title = fmt.Sprintf("%s climbed #%d → #%d", ev.SubjectKey, ev.PrevRank, ev.NewRank)
		p.Color = colorGood
	case diff.KindRankDropped:
		p.Title = fmt.Sprintf("%s slipped #%d → #%d", ev.SubjectKey, ev.PrevRank, ev.NewRank)
		p.Color = colorBad
	case diff.KindFellOutTopK:
		p.Title = fmt.Sprintf("%s fell out of the top ranks (was #%d)", ev.SubjectKey, ev.PrevRank)
		p.Color = colorBad
	case diff.KindTierIncreased:
		p.Title = fmt.Sprintf("%s reached %s", ev.SubjectKey, strings.ToUpper(ev.Tier.String()))
		p.Color = colorGold
		p.Fields = append(p.Fields, sink.Field{Name: "achieved", Value: strconv.Itoa(ev.AchievedCount)})
	case diff.KindAchievementEarned:
		p.Title = fmt.Sprintf("%s earned achievement %s", ev.SubjectKey, ev.AchievementID)
		p.Color = colorNeutral
		p.Fields = append(p.Fields, sink.Field{Name: "achievement", Value: ev.AchievementID})
	default:
		p.Title = fmt.Sprintf("%s: %s", ev.SubjectKey, ev.Kind)
		p.Color = colorNeutral
	}

	if ev.PrevRank > 0 {
		p.Fields = append(p.Fields, sink.Field{Name: "prev_rank", Value: strconv.Itoa(ev.PrevRank)})
	}
	if ev.NewRank > 0 {
		p.Fields = append(p.Fields, sink.Field{Name: "new_rank", Value: strconv.Itoa(ev.NewRank)})
	}
	if ev.Score != "" {
		p.Fields = append(p.Fields, sink.Field{Name: "score", Value: ev.Score})
	}
	return p
}
