package diff

import (
	"context"
	"errors"
	"sort"

	"retrotrack/internal/awards"
	"retrotrack/internal/raapi"
	"retrotrack/internal/storage"
	logx "retrotrack/pkg/logx"
)

// RunAwardCycle checks every (subject, challenge) pair once, classifies the
// subject's windowed progress and emits events for strict tier increases and
// newly earned achievements. Per-pair failures are logged and isolated.
func (e *Engine) RunAwardCycle(ctx context.Context) error {
	challenges, err := e.store.Challenges(ctx)
	if err != nil {
		return err
	}
	roster, err := e.store.Roster(ctx)
	if err != nil {
		return err
	}

	sort.Slice(challenges, func(i, j int) bool { return challenges[i].ID < challenges[j].ID })
	sort.Slice(roster, func(i, j int) bool { return roster[i].Key < roster[j].Key })

	cfg := e.config()
	first := true
	for _, ch := range challenges {
		required := awards.RequiredSet(ch.RequiredIDs)
		for _, subject := range roster {
			if !first {
				if !sleepCtx(ctx, cfg.EntityDelay) {
					return ctx.Err()
				}
			}
			first = false

			if err := e.pollPair(ctx, ch, subject, required); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				e.log.Warn("award check failed, skipping pair",
					logx.String("challenge", ch.ID), logx.String("subject", subject.Key),
					logx.String("kind", raapi.KindOf(err).String()), logx.Err(err))
			}
		}
	}
	return nil
}

func (e *Engine) pollPair(ctx context.Context, ch storage.Challenge, subject storage.Subject, required map[string]struct{}) error {
	progress, err := e.api.GameProgress(ctx, subject.Username, ch.GameID)
	if err != nil {
		return err
	}

	earned := awards.EarnedInWindow(progress.Earned, ch.MonthStart)
	tier := awards.Classify(required, earned, ch.WinThreshold)
	if ch.Shadow {
		tier = tier.Cap(awards.TierBeaten)
	}

	now := e.now()
	period := awards.PeriodKey(ch.MonthStart)

	recorded, _, err := e.store.Award(ctx, subject.Key, period, ch.Shadow)
	if err != nil {
		return err
	}

	// Tiers only move up within a period. A lower classification (typically an
	// upstream glitch under-reporting progress) neither persists nor emits.
	if tier > recorded.Tier {
		if err := e.store.UpsertAward(ctx, subject.Key, period, ch.Shadow, storage.AwardState{
			Tier:          tier,
			AchievedCount: len(earned),
		}); err != nil {
			return err
		}
		ev := newEvent(KindTierIncreased, ch.ID, subject.Key, now)
		ev.Tier = tier
		ev.AchievedCount = len(earned)
		e.emitEvent(ctx, ev)
	}

	// Fine-grained achievement events. The dispatcher suppresses ids that were
	// already announced, so re-emitting the full window set each cycle is safe.
	ids := make([]string, 0, len(earned))
	for id := range earned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ev := newEvent(KindAchievementEarned, ch.ID, subject.Key, now)
		ev.AchievementID = id
		ev.AchievedCount = len(earned)
		e.emitEvent(ctx, ev)
	}

	return nil
}
