package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/backfill"
)

type printer struct {
	w      io.Writer
	bold   *color.Color
	green  *color.Color
	red    *color.Color
	yellow *color.Color
	faint  *color.Color
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:      w,
		bold:   color.New(color.Bold),
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		faint:  color.New(color.Faint),
	}
}

func (p *printer) outcome(o *backfill.Outcome) {
	if o.Projection != nil {
		pr := o.Projection
		p.yellow.Fprintf(p.w, "DRY RUN %s\n", pr.UserID)
		fmt.Fprintf(p.w, "  xp:     %d -> %d (+%d)\n", pr.BeforeXP, pr.ProjectedXP, pr.BackfillXP)
		fmt.Fprintf(p.w, "  level:  %d -> %d\n", pr.BeforeLevel, pr.ProjectedLevel)
		fmt.Fprintf(p.w, "  events: %d to create\n", pr.EventsToCreate)
		p.activities(pr.Activities)
		return
	}

	c := o.Commit
	p.green.Fprintf(p.w, "BACKFILLED %s\n", c.UserID)
	fmt.Fprintf(p.w, "  xp:     %d -> %d\n", c.BeforeXP, c.AfterXP)
	fmt.Fprintf(p.w, "  level:  %d -> %d\n", c.BeforeLevel, c.AfterLevel)
	fmt.Fprintf(p.w, "  events: %d created\n", c.EventsCreated)
	if len(c.BadgesAwarded) > 0 {
		fmt.Fprintf(p.w, "  badges: %s\n", strings.Join(c.BadgesAwarded, ", "))
	}
	p.activities(c.Activities)
}

func (p *printer) activities(c activity.Counts) {
	p.faint.Fprintf(p.w, "  activity: %d flashcards, %d study sessions, %d notes, %d goals, %d reading sessions, %d uploads\n",
		c.Flashcards, c.StudySessions, c.Notes, c.Goals, c.ReadingSessions, c.FileUploads)
}

func (p *printer) summary(s *backfill.BatchSummary) {
	for _, r := range s.Results {
		if r.Status == backfill.StatusSucceeded {
			p.green.Fprint(p.w, "  ok   ")
			fmt.Fprintf(p.w, "%-24s +%d xp, %d events\n", r.UserID, r.Outcome.XPDelta(), r.Outcome.Events())
			continue
		}
		p.red.Fprint(p.w, "  FAIL ")
		fmt.Fprintf(p.w, "%-24s %v (after %d attempts)\n", r.UserID, r.Err, r.Attempts)
		if r.Partial != nil {
			p.yellow.Fprintf(p.w, "       wrote %d events (+%d xp) before failing\n",
				r.Partial.EventsCreated, r.Partial.AfterXP-r.Partial.BeforeXP)
		}
	}

	title := "BACKFILL"
	if s.DryRun {
		title = "DRY RUN"
	}
	p.bold.Fprintf(p.w, "%s: %d users processed, %d succeeded, %d failed\n",
		title, s.UsersProcessed, s.UsersSucceeded, s.UsersFailed)
	fmt.Fprintf(p.w, "  total: %d xp, %d events, %d badges\n", s.TotalXPAwarded, s.TotalEvents, s.TotalBadges)
}

func (p *printer) rollback(r *backfill.RollbackResult) {
	p.green.Fprintf(p.w, "ROLLED BACK %s\n", r.UserID)
	fmt.Fprintf(p.w, "  events deleted: %d\n", r.EventsDeleted)
	fmt.Fprintf(p.w, "  xp now %d, level %d\n", r.NewTotalXP, r.NewLevel)
}

func (p *printer) report(r *backfill.Report) {
	p.bold.Fprintf(p.w, "%s: %d xp, level %d (next at %d)\n", r.UserID, r.CurrentXP, r.CurrentLevel, r.NextLevelXP)
	fmt.Fprintf(p.w, "  backfill: %d events, %d xp\n", r.BackfillEvents, r.BackfillXP)
	fmt.Fprintf(p.w, "  organic:  %d events, %d xp\n", r.OrganicEvents, r.OrganicXP)
	fmt.Fprintf(p.w, "  badges:   %d\n", r.BadgesEarned)
	if len(r.RecentEvents) == 0 {
		return
	}
	p.faint.Fprintln(p.w, "  recent:")
	for _, e := range r.RecentEvents {
		fmt.Fprintf(p.w, "    %s  %-22s %4d  %s\n", e.CreatedAt.Format("2006-01-02"), e.Type, e.Value, e.Origin)
	}
}
