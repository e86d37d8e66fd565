// Automatic moderation of guild chat messages.
//
// The Filter inspects each new message for spam (mass mentions, or the same
// text repeated in a burst) and for words from a banned list. Matching
// messages are deleted and the author is told why, either with a short-lived
// notice in the channel or a direct message. Actions are tallied per guild in
// a countstore, which backs the statistics command.
//
// State lives in the subpackages: countstore (counters), cachestore (recent
// message history), and setstore (the banned word list).
package automod
