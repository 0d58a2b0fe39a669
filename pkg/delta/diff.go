package delta

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff returns a delta that turns a into b.
func Diff(a, b string) Delta {
	d := New()
	if a == b {
		return *d.Retain(utf8.RuneCountInString(a))
	}
	dmp := diffmatchpatch.New()
	for _, df := range dmp.DiffMain(a, b, false) {
		switch df.Type {
		case diffmatchpatch.DiffEqual:
			d.Retain(utf8.RuneCountInString(df.Text))
		case diffmatchpatch.DiffInsert:
			d.Insert(df.Text)
		case diffmatchpatch.DiffDelete:
			d.Delete(utf8.RuneCountInString(df.Text))
		}
	}
	return *d
}
