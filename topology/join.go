package topology

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
	"github.com/Aishwarya-Atre-1/ziggurat/pkg/timestamp"
)

// JoinKind selects which unmatched records a join emits
type JoinKind int

const (
	// InnerJoin emits matched pairs only
	InnerJoin JoinKind = iota
	// LeftJoin also emits unmatched left records
	LeftJoin
	// OuterJoin also emits unmatched records from both sides
	OuterJoin
)

func (k JoinKind) String() string {
	switch k {
	case LeftJoin:
		return "left"
	case OuterJoin:
		return "outer"
	default:
		return "inner"
	}
}

// ParseJoinKind maps a configured join type to a JoinKind. Empty means inner.
func ParseJoinKind(s string) (JoinKind, error) {
	switch s {
	case "", "inner":
		return InnerJoin, nil
	case "left":
		return LeftJoin, nil
	case "outer":
		return OuterJoin, nil
	}
	return InnerJoin, errors.WrapInvalid(fmt.Errorf("%w: unknown join type %q", errors.ErrInvalidConfig, s),
		"topology", "ParseJoinKind", "parse join type")
}

// ValueJoiner combines a left and right value. Either may be nil for an
// unmatched record of a left or outer join.
type ValueJoiner func(left, right any) any

type joinEntry struct {
	msg     *message.Message
	matched bool
}

type joinSide int

const (
	sideLeft joinSide = iota
	sideRight
)

// joinStore holds both windows of one join
type joinStore struct {
	mu         sync.Mutex
	window     int64
	kind       JoinKind
	joiner     ValueJoiner
	records    [2]map[string][]*joinEntry
	streamTime int64
}

func newJoinStore(window time.Duration, kind JoinKind, joiner ValueJoiner) *joinStore {
	return &joinStore{
		window:  window.Milliseconds(),
		kind:    kind,
		joiner:  joiner,
		records: [2]map[string][]*joinEntry{{}, {}},
	}
}

func (j *joinStore) combine(side joinSide, own, other *message.Message) *message.Message {
	left, right := own, other
	if side == sideRight {
		left, right = other, own
	}

	var lv, rv any
	out := *own
	if left != nil {
		lv = left.Value
		out = *left
	}
	if right != nil {
		rv = right.Value
		if left == nil {
			out = *right
		} else {
			out.Timestamp = timestamp.Max(left.Timestamp, right.Timestamp)
		}
	}
	out.Headers = out.Headers.Clone()
	out.Value = j.joiner(lv, rv)
	return &out
}

// arrive records msg on side and returns the records to emit downstream
func (j *joinStore) arrive(side joinSide, msg *message.Message) []*message.Message {
	if msg.Key == "" {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.streamTime = timestamp.Max(j.streamTime, msg.Timestamp)

	var out []*message.Message
	entry := &joinEntry{msg: msg}
	for _, other := range j.records[1-side][msg.Key] {
		if abs(msg.Timestamp-other.msg.Timestamp) <= j.window {
			out = append(out, j.combine(side, msg, other.msg))
			other.matched = true
			entry.matched = true
		}
	}
	j.records[side][msg.Key] = append(j.records[side][msg.Key], entry)

	return append(out, j.evict()...)
}

// evict drops records whose window closed and emits unmatched ones the
// join kind asks for. Caller holds mu.
func (j *joinStore) evict() []*message.Message {
	var out []*message.Message
	for side := sideLeft; side <= sideRight; side++ {
		emit := j.kind == OuterJoin || (j.kind == LeftJoin && side == sideLeft)
		for key, entries := range j.records[side] {
			kept := entries[:0]
			for _, e := range entries {
				if e.msg.Timestamp+j.window >= j.streamTime {
					kept = append(kept, e)
					continue
				}
				if emit && !e.matched {
					out = append(out, j.combine(side, e.msg, nil))
				}
			}
			if len(kept) == 0 {
				delete(j.records[side], key)
			} else {
				j.records[side][key] = kept
			}
		}
	}
	return out
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Join joins s with other on message key. Records whose timestamps differ by
// at most window are combined with joiner. The result stream carries the
// left record's topic and headers, and the later of the two timestamps.
// For left and outer joins an unmatched record is emitted only after later
// records on either side advance stream time past its timestamp plus window;
// a lone record on quiet topics is never emitted.
func (s *Stream) Join(name string, other *Stream, joiner ValueJoiner, window time.Duration, kind JoinKind) *Stream {
	b := s.builder
	if other.builder != b {
		b.fail("join %q: streams belong to different builders", name)
	}

	store := newJoinStore(window, kind, joiner)
	result := &node{
		name: name,
		kind: "join",
		handle: func(ctx context.Context, msg *message.Message, forward processFunc) error {
			return forward(ctx, msg)
		},
	}

	side := func(sd joinSide, suffix string) *node {
		return &node{
			name: name + "-" + suffix,
			kind: "join-window",
			handle: func(ctx context.Context, msg *message.Message, _ processFunc) error {
				var errs []error
				for _, joined := range store.arrive(sd, msg) {
					if err := result.process(ctx, joined); err != nil {
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			},
		}
	}

	b.add(s.node, side(sideLeft, "this"))
	b.add(other.node, side(sideRight, "other"))
	b.add(nil, result)
	return &Stream{builder: b, node: result}
}
