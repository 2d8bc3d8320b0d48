package rewards

import "github.com/studyhall/xp-engine/activity"

// =============================================================================
// XP FORMULAS - Per-activity rewards
// =============================================================================
//
//   flashcard created      5
//   note created           10
//   file upload completed  15
//   study session          floor(correct/10)*5 + 10 if perfect + 5 if under 5 minutes (min 5)
//   goal completed         high 50, medium 40, anything else 30
//   reading session        floor(seconds/600)*5 + pages*2 (min 5)

const (
	FlashcardXP  = 5
	NoteXP       = 10
	FileUploadXP = 15

	minStudySessionXP   = 5
	minReadingSessionXP = 5

	perfectSessionBonus = 10
	speedBonus          = 5
	speedBonusSeconds   = 300
	readingBlockSeconds = 600
)

// StudySessionXP prices one completed study session. A session is perfect
// when it had cards and every answer was correct. The speed bonus needs a
// recorded duration; zero counts as recorded.
func StudySessionXP(s activity.StudySession) int {
	correct := clamp(s.CorrectAnswers)
	total := clamp(s.TotalCards)

	xpValue := (correct / 10) * 5
	if total > 0 && correct == total {
		xpValue += perfectSessionBonus
	}
	if s.DurationSeconds.Valid && max(s.DurationSeconds.Int64, 0) < speedBonusSeconds {
		xpValue += speedBonus
	}
	return max(xpValue, minStudySessionXP)
}

func GoalXP(g activity.Goal) int {
	switch g.Priority {
	case activity.PriorityHigh:
		return 50
	case activity.PriorityMedium:
		return 40
	default:
		return 30
	}
}

func ReadingSessionXP(r activity.ReadingSession) int {
	xpValue := (clamp(r.DurationSeconds)/readingBlockSeconds)*5 + clamp(r.PagesRead)*2
	return max(xpValue, minReadingSessionXP)
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
