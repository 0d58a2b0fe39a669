package delta_test

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/astromechza/textsync/pkg/delta"
)

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func eq(t *testing.T, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func apply(t *testing.T, d delta.Delta, s string) string {
	t.Helper()
	out, err := d.Apply(s)
	ok(t, err)
	return out
}

func TestBuilderCanonicalForm(t *testing.T) {
	d := delta.New().Retain(2).Retain(3).Delete(1).Insert("ab").Insert("c").Delete(2).Retain(0)
	eq(t, d.String(), `[r5 i"abc" d3]`)
	eq(t, d.BaseLen(), 8)
	eq(t, d.TargetLen(), 8)
}

func TestApply(t *testing.T) {
	d := delta.New().Delete(3).Retain(2).Insert("seball").Delete(1)
	eq(t, apply(t, *d, "foobar"), "baseball")

	_, err := d.Apply("foo")
	if !errors.Is(err, delta.ErrLengthMismatch) {
		t.Fatalf("got %v, want length mismatch", err)
	}
}

func TestApplyCountsCodePoints(t *testing.T) {
	d := delta.New().Retain(1).Insert("é").Retain(1)
	eq(t, apply(t, *d, "ñü"), "ñéü")
}

func TestParse(t *testing.T) {
	d, err := delta.Parse([]byte(`{"ops":[{"insert":"hi "},{"retain":5}]}`))
	ok(t, err)
	eq(t, apply(t, d, "hello"), "hi hello")

	for _, bad := range []string{
		`{"ops":[{}]}`,
		`{"ops":[{"retain":1,"insert":"x"}]}`,
		`{"ops":[{"delete":-1}]}`,
		`{"ops":[{"retain":9223372036854775807},{"retain":9223372036854775807},{"retain":11}]}`,
		`{"ops":[{"retain":9223372036854775807},{"insert":"x"},{"delete":9223372036854775807}]}`,
	} {
		if _, err := delta.Parse([]byte(bad)); !errors.Is(err, delta.ErrInvalidComponent) {
			t.Fatalf("%s: got %v, want invalid component", bad, err)
		}
	}
	if _, err := delta.Parse([]byte(`{"ops":`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestApplyRejectsOverflowingLengths(t *testing.T) {
	d := delta.Delta{Ops: []delta.Op{{Retain: math.MaxInt}, {Retain: math.MaxInt}, {Retain: 11}}}
	if _, err := d.Apply("123456789"); !errors.Is(err, delta.ErrInvalidComponent) {
		t.Fatalf("got %v, want invalid component", err)
	}
}

func TestCompose(t *testing.T) {
	a := delta.New().Retain(3).Insert("bar")
	b := delta.New().Delete(2).Retain(4)
	c, err := delta.Compose(*a, *b)
	ok(t, err)
	eq(t, apply(t, c, "foo"), apply(t, *b, apply(t, *a, "foo")))
	eq(t, apply(t, c, "foo"), "obar")

	_, err = delta.Compose(*a, *a)
	if !errors.Is(err, delta.ErrLengthMismatch) {
		t.Fatalf("got %v, want length mismatch", err)
	}
}

func TestTransform(t *testing.T) {
	run := func(base string, a, b *delta.Delta, want string) {
		t.Helper()
		ap, bp, err := delta.Transform(*a, *b)
		ok(t, err)
		left := apply(t, bp, apply(t, *a, base))
		right := apply(t, ap, apply(t, *b, base))
		eq(t, left, right)
		eq(t, left, want)
	}

	// Insert-insert at the same position: a lands first.
	run("hello", delta.New().Insert("hi ").Retain(5), delta.New().Insert("oh ").Retain(5), "hi oh hello")
	run("", delta.New().Insert("hi "), delta.New().Insert("hello"), "hi hello")

	// Insert-delete.
	run("abcdef", delta.New().Retain(2).Insert("XY").Retain(4), delta.New().Retain(1).Delete(3).Retain(2), "aXYef")

	// Overlapping deletes.
	run("abcdef", delta.New().Retain(1).Delete(3).Retain(2), delta.New().Retain(2).Delete(3).Retain(1), "af")
	run("abcdef", delta.New().Delete(6), delta.New().Delete(6), "")
}

func TestTransformLengthMismatch(t *testing.T) {
	_, _, err := delta.Transform(*delta.New().Retain(2), *delta.New().Retain(3))
	if !errors.Is(err, delta.ErrLengthMismatch) {
		t.Fatalf("got %v, want length mismatch", err)
	}
}

func TestDiff(t *testing.T) {
	for _, tc := range [][2]string{
		{"", "hello"},
		{"hello", ""},
		{"hello world", "hello brave new world"},
		{"the quick brown fox", "the slow brown dog"},
		{"ñandú", "ñandúes"},
		{"same", "same"},
	} {
		d := delta.Diff(tc[0], tc[1])
		eq(t, apply(t, d, tc[0]), tc[1])
	}
	eq(t, delta.Diff("same", "same").IsNoop(), true)
}

func randomDelta(r *rand.Rand, s string) delta.Delta {
	runes := []rune(s)
	d := delta.New()
	pos := 0
	for pos < len(runes) {
		n := 1 + r.Intn(len(runes)-pos)
		switch r.Intn(3) {
		case 0:
			d.Retain(n)
		case 1:
			d.Delete(n)
		default:
			d.Insert(strings.Repeat(string(rune('a'+r.Intn(26))), 1+r.Intn(3)))
			d.Retain(n)
		}
		pos += n
	}
	if r.Intn(2) == 0 {
		d.Insert("z")
	}
	return *d
}

func TestTransformConvergesRandomly(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		base := strings.Repeat("0123456789", r.Intn(3)) + "abc"[:r.Intn(4)]
		a, b := randomDelta(r, base), randomDelta(r, base)
		ap, bp, err := delta.Transform(a, b)
		ok(t, err)
		eq(t, apply(t, bp, apply(t, a, base)), apply(t, ap, apply(t, b, base)))

		c, err := delta.Compose(a, bp)
		ok(t, err)
		eq(t, apply(t, c, base), apply(t, bp, apply(t, a, base)))
	}
}

func TestTransformAll(t *testing.T) {
	logged := []delta.Delta{
		*delta.New().Insert("hello"),
		*delta.New().Retain(5).Insert(" world"),
	}
	d, err := delta.TransformAll(*delta.New().Insert("hi "), logged)
	ok(t, err)
	eq(t, apply(t, d, "hello world"), "hi hello world")
}
