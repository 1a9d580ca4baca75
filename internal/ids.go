package internal

import (
	"time"

	"lanchat/internal/models"
)

// idsPerMillisecond leaves room for 1000 messages per millisecond before ids
// borrow from the next millisecond. Ids stay below 2^53 until the year 2255.
const idsPerMillisecond = 1000

// idGenerator hands out strictly increasing message ids derived from the
// clock: epochMillis*1000 + sequence.
type idGenerator struct {
	last models.MessageID
}

func (g *idGenerator) next(now time.Time) models.MessageID {
	candidate := models.MessageID(now.UnixMilli() * idsPerMillisecond)
	if candidate <= g.last {
		candidate = g.last + 1
	}
	g.last = candidate
	return candidate
}

// observe makes sure later ids sort after id.
func (g *idGenerator) observe(id models.MessageID) {
	if id > g.last {
		g.last = id
	}
}
