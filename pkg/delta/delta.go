// Package delta implements retain/insert/delete text deltas with compose and transform.
//
// A delta always covers the full length of the text it applies to. Lengths count Unicode code points,
// not bytes.
package delta

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

var (
	ErrLengthMismatch   = errors.New("delta length mismatch")
	ErrInvalidComponent = errors.New("invalid delta component")
)

// Op is a single delta component. Exactly one field is set.
type Op struct {
	Retain int    `json:"retain,omitempty"`
	Insert string `json:"insert,omitempty"`
	Delete int    `json:"delete,omitempty"`
}

func (o Op) isRetain() bool { return o.Retain > 0 }
func (o Op) isInsert() bool { return o.Insert != "" }
func (o Op) isDelete() bool { return o.Delete > 0 }
func (o Op) empty() bool    { return o.Retain == 0 && o.Insert == "" && o.Delete == 0 }

func (o Op) String() string {
	switch {
	case o.isRetain():
		return fmt.Sprintf("r%d", o.Retain)
	case o.isInsert():
		return fmt.Sprintf("i%q", o.Insert)
	case o.isDelete():
		return fmt.Sprintf("d%d", o.Delete)
	}
	return "?"
}

// Delta is an ordered list of components.
type Delta struct {
	Ops []Op `json:"ops"`
}

func New() *Delta {
	return &Delta{}
}

// Retain appends a retain of n code points.
func (d *Delta) Retain(n int) *Delta {
	if n <= 0 {
		return d
	}
	if l := len(d.Ops); l > 0 && d.Ops[l-1].isRetain() {
		d.Ops[l-1].Retain += n
		return d
	}
	d.Ops = append(d.Ops, Op{Retain: n})
	return d
}

// Insert appends an insertion. An insert directly following a delete is moved in front of it so that
// equal deltas have equal components.
func (d *Delta) Insert(s string) *Delta {
	if s == "" {
		return d
	}
	l := len(d.Ops)
	if l > 0 && d.Ops[l-1].isInsert() {
		d.Ops[l-1].Insert += s
		return d
	}
	if l > 0 && d.Ops[l-1].isDelete() {
		if l > 1 && d.Ops[l-2].isInsert() {
			d.Ops[l-2].Insert += s
			return d
		}
		d.Ops = append(d.Ops, d.Ops[l-1])
		d.Ops[l-1] = Op{Insert: s}
		return d
	}
	d.Ops = append(d.Ops, Op{Insert: s})
	return d
}

// Delete appends a deletion of n code points.
func (d *Delta) Delete(n int) *Delta {
	if n <= 0 {
		return d
	}
	if l := len(d.Ops); l > 0 && d.Ops[l-1].isDelete() {
		d.Ops[l-1].Delete += n
		return d
	}
	d.Ops = append(d.Ops, Op{Delete: n})
	return d
}

// BaseLen is the length of the text the delta applies to.
func (d Delta) BaseLen() int {
	n := 0
	for _, op := range d.Ops {
		n += op.Retain + op.Delete
	}
	return n
}

// TargetLen is the length of the text the delta produces.
func (d Delta) TargetLen() int {
	n := 0
	for _, op := range d.Ops {
		n += op.Retain + utf8.RuneCountInString(op.Insert)
	}
	return n
}

// IsNoop reports whether applying d leaves any text unchanged.
func (d Delta) IsNoop() bool {
	for _, op := range d.Ops {
		if !op.isRetain() {
			return false
		}
	}
	return true
}

// Counts returns the number of inserted and deleted code points.
func (d Delta) Counts() (inserted, deleted int) {
	for _, op := range d.Ops {
		inserted += utf8.RuneCountInString(op.Insert)
		deleted += op.Delete
	}
	return inserted, deleted
}

func (d Delta) String() string {
	parts := make([]string, len(d.Ops))
	for i, op := range d.Ops {
		parts[i] = op.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Validate checks that every component has exactly one non-negative field set and that the base and
// target lengths fit in an int.
func (d Delta) Validate() error {
	base, target := 0, 0
	for i, op := range d.Ops {
		if op.Retain < 0 || op.Delete < 0 {
			return fmt.Errorf("%w: component %d has a negative count", ErrInvalidComponent, i)
		}
		set := 0
		if op.isRetain() {
			set++
		}
		if op.isInsert() {
			set++
		}
		if op.isDelete() {
			set++
		}
		if set != 1 {
			return fmt.Errorf("%w: component %d sets %d fields", ErrInvalidComponent, i, set)
		}
		// Only one of the counts below is non-zero, so the sums cannot overflow.
		ins := utf8.RuneCountInString(op.Insert)
		if op.Retain+op.Delete > math.MaxInt-base || op.Retain+ins > math.MaxInt-target {
			return fmt.Errorf("%w: component %d overflows the delta length", ErrInvalidComponent, i)
		}
		base += op.Retain + op.Delete
		target += op.Retain + ins
	}
	return nil
}

// Parse decodes and validates the JSON form of a delta.
func Parse(data []byte) (Delta, error) {
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return Delta{}, fmt.Errorf("failed to decode delta: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Delta{}, err
	}
	return d, nil
}

// Apply returns s with d applied.
func (d Delta) Apply(s string) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	runes := []rune(s)
	if bl := d.BaseLen(); bl != len(runes) {
		return "", fmt.Errorf("%w: delta covers %d, text has %d", ErrLengthMismatch, bl, len(runes))
	}
	var b strings.Builder
	b.Grow(len(s))
	pos := 0
	for _, op := range d.Ops {
		switch {
		case op.isRetain():
			b.WriteString(string(runes[pos : pos+op.Retain]))
			pos += op.Retain
		case op.isInsert():
			b.WriteString(op.Insert)
		case op.isDelete():
			pos += op.Delete
		}
	}
	return b.String(), nil
}

// cursor walks the components of a delta, handing out copies that the caller consumes in place.
type cursor struct {
	ops []Op
	i   int
	cur Op
	ok  bool
}

func newCursor(d Delta) *cursor {
	c := &cursor{ops: d.Ops}
	c.next()
	return c
}

func (c *cursor) next() {
	c.ok = c.i < len(c.ops)
	if c.ok {
		c.cur = c.ops[c.i]
		c.i++
	} else {
		c.cur = Op{}
	}
}

// advance moves past the current component once it has been fully consumed.
func (c *cursor) advance() {
	if c.cur.empty() {
		c.next()
	}
}

// Compose returns a delta equivalent to applying a then b.
func Compose(a, b Delta) (Delta, error) {
	if a.TargetLen() != b.BaseLen() {
		return Delta{}, fmt.Errorf("%w: first produces %d, second covers %d", ErrLengthMismatch, a.TargetLen(), b.BaseLen())
	}
	out := New()
	c1, c2 := newCursor(a), newCursor(b)
	for c1.ok || c2.ok {
		if c1.ok && c1.cur.isDelete() {
			out.Delete(c1.cur.Delete)
			c1.next()
			continue
		}
		if c2.ok && c2.cur.isInsert() {
			out.Insert(c2.cur.Insert)
			c2.next()
			continue
		}
		if !c1.ok || !c2.ok {
			return Delta{}, fmt.Errorf("%w: ran out of components while composing", ErrLengthMismatch)
		}
		op1, op2 := &c1.cur, &c2.cur
		switch {
		case op1.isRetain() && op2.isRetain():
			n := min(op1.Retain, op2.Retain)
			out.Retain(n)
			op1.Retain -= n
			op2.Retain -= n
		case op1.isInsert() && op2.isDelete():
			runes := []rune(op1.Insert)
			n := min(len(runes), op2.Delete)
			op1.Insert = string(runes[n:])
			op2.Delete -= n
		case op1.isInsert() && op2.isRetain():
			runes := []rune(op1.Insert)
			n := min(len(runes), op2.Retain)
			out.Insert(string(runes[:n]))
			op1.Insert = string(runes[n:])
			op2.Retain -= n
		case op1.isRetain() && op2.isDelete():
			n := min(op1.Retain, op2.Delete)
			out.Delete(n)
			op1.Retain -= n
			op2.Delete -= n
		}
		c1.advance()
		c2.advance()
	}
	return *out, nil
}

// Transform derives the bottom two sides of the OT diamond: given a and b made against the same text,
// it returns a' and b' such that b followed by a' equals a followed by b'. When both insert at the
// same position, a's insertion ends up first.
func Transform(a, b Delta) (Delta, Delta, error) {
	if a.BaseLen() != b.BaseLen() {
		return Delta{}, Delta{}, fmt.Errorf("%w: deltas cover %d and %d", ErrLengthMismatch, a.BaseLen(), b.BaseLen())
	}
	ap, bp := New(), New()
	c1, c2 := newCursor(a), newCursor(b)
	for c1.ok || c2.ok {
		if c1.ok && c1.cur.isInsert() {
			ap.Insert(c1.cur.Insert)
			bp.Retain(utf8.RuneCountInString(c1.cur.Insert))
			c1.next()
			continue
		}
		if c2.ok && c2.cur.isInsert() {
			ap.Retain(utf8.RuneCountInString(c2.cur.Insert))
			bp.Insert(c2.cur.Insert)
			c2.next()
			continue
		}
		if !c1.ok || !c2.ok {
			return Delta{}, Delta{}, fmt.Errorf("%w: ran out of components while transforming", ErrLengthMismatch)
		}
		op1, op2 := &c1.cur, &c2.cur
		switch {
		case op1.isRetain() && op2.isRetain():
			n := min(op1.Retain, op2.Retain)
			ap.Retain(n)
			bp.Retain(n)
			op1.Retain -= n
			op2.Retain -= n
		case op1.isDelete() && op2.isDelete():
			// Both sides already removed the overlap.
			n := min(op1.Delete, op2.Delete)
			op1.Delete -= n
			op2.Delete -= n
		case op1.isDelete() && op2.isRetain():
			n := min(op1.Delete, op2.Retain)
			ap.Delete(n)
			op1.Delete -= n
			op2.Retain -= n
		case op1.isRetain() && op2.isDelete():
			n := min(op1.Retain, op2.Delete)
			bp.Delete(n)
			op1.Retain -= n
			op2.Delete -= n
		}
		c1.advance()
		c2.advance()
	}
	return *ap, *bp, nil
}

// TransformAll transforms d against each of logged in order, returning d rebased onto the text
// produced by the last of them.
func TransformAll(d Delta, logged []Delta) (Delta, error) {
	for i, l := range logged {
		var err error
		if d, _, err = Transform(d, l); err != nil {
			return Delta{}, fmt.Errorf("failed to transform against entry %d: %w", i, err)
		}
	}
	return d, nil
}
