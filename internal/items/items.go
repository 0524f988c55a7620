// Package items holds the pure transformations over a list's item
// array. Every function returns a fresh slice and leaves its input
// untouched; persisting the result is the caller's job.
package items

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/grumpy-ui/listado/internal/model"
)

var (
	ErrBlankText   = errors.New("item text is blank")
	ErrBadQuantity = errors.New("quantity must be a positive integer")
	ErrOutOfRange  = errors.New("item index out of range")
)

// ParseQuantity interprets the quantity field of an add form. Blank
// means 1. Anything that does not parse as a positive integer is
// rejected rather than clamped or defaulted.
func ParseQuantity(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, ErrBadQuantity
	}
	return n, nil
}

// Add appends a new unbought item and re-sorts. Blank text (after
// trimming) and non-positive quantities are rejected; callers treat
// the error as a local no-op.
func Add(list []model.Item, text string, quantity int, unit string) ([]model.Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return list, ErrBlankText
	}
	if quantity < 1 {
		return list, ErrBadQuantity
	}

	out := make([]model.Item, len(list), len(list)+1)
	copy(out, list)
	out = append(out, model.Item{
		Text:     text,
		Quantity: quantity,
		Unit:     strings.TrimSpace(unit),
		Bought:   false,
	})
	return Sort(out), nil
}

// Toggle flips the bought flag at index and re-sorts.
func Toggle(list []model.Item, index int) ([]model.Item, error) {
	if index < 0 || index >= len(list) {
		return list, ErrOutOfRange
	}
	out := make([]model.Item, len(list))
	copy(out, list)
	out[index].Bought = !out[index].Bought
	return Sort(out), nil
}

// Delete removes the item at index. Out-of-range is a no-op.
func Delete(list []model.Item, index int) []model.Item {
	if index < 0 || index >= len(list) {
		return list
	}
	out := make([]model.Item, 0, len(list)-1)
	out = append(out, list[:index]...)
	out = append(out, list[index+1:]...)
	return out
}

// Sort orders unbought items before bought ones. The sort is stable so
// items of equal status keep their relative order and the view does
// not shuffle on every edit.
func Sort(list []model.Item) []model.Item {
	out := make([]model.Item, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		return !out[i].Bought && out[j].Bought
	})
	return out
}
