package xp

// Level curve: reaching level L takes 50*L*(L-1) cumulative XP.
//
//	L1: 0   L2: 100   L3: 300   L4: 600   L5: 1000 ...
//
// Each level costs 100 XP more than the previous one.
const levelStep = 50

// LevelThreshold returns the cumulative XP needed to reach level.
func LevelThreshold(level int) int {
	if level <= 1 {
		return 0
	}
	return levelStep * level * (level - 1)
}

// LevelFor maps a ledger total to (level, XP required for the next level).
// Pure and monotonic; negative totals are treated as zero. nextLevelXP is
// always greater than totalXP.
func LevelFor(totalXP int) (level, nextLevelXP int) {
	if totalXP < 0 {
		totalXP = 0
	}
	level = 1
	for LevelThreshold(level+1) <= totalXP {
		level++
	}
	return level, LevelThreshold(level + 1)
}
