// Package carousel implements the rotating, deduplicated collection that backs a model gallery.
// Items are kept in insertion order and addressed by their string key; a cursor marks the item
// currently on display.
package carousel

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCollection is returned by Next, Peek and Current when the carousel holds no items.
	ErrEmptyCollection = errors.New("carousel: collection is empty")

	// ErrKeyNotFound is returned by SkipTo when the requested key was never added.
	ErrKeyNotFound = errors.New("carousel: key not found")
)

// Item is anything with a stable identity key.
type Item interface {
	Key() string
}

// Carousel is an ordered ring of unique items.
// It is not safe for concurrent use; the owning gallery serialises access.
type Carousel[T Item] struct {
	items  map[string]T
	order  []string
	cursor int
}

// New builds a carousel from the initial items. When the input repeats a key, the item keeps the
// position of its first occurrence and the value of its last.
func New[T Item](items ...T) *Carousel[T] {
	c := &Carousel[T]{items: make(map[string]T, len(items))}
	for _, item := range items {
		key := item.Key()
		if _, exists := c.items[key]; !exists {
			c.order = append(c.order, key)
		}
		c.items[key] = item
	}
	return c
}

// Add appends item when its key is not present yet. The cursor does not move.
func (c *Carousel[T]) Add(item T) {
	key := item.Key()
	if _, exists := c.items[key]; exists {
		return
	}
	if c.items == nil {
		c.items = make(map[string]T)
	}
	c.items[key] = item
	c.order = append(c.order, key)
}

// Next advances the cursor by one, wrapping at the end, and returns the new current item.
func (c *Carousel[T]) Next() (T, error) {
	if c.IsEmpty() {
		var zero T
		return zero, ErrEmptyCollection
	}
	c.cursor = (c.cursor + 1) % len(c.order)
	return c.items[c.order[c.cursor]], nil
}

// Peek returns the item Next would move to without moving the cursor.
func (c *Carousel[T]) Peek() (T, error) {
	if c.IsEmpty() {
		var zero T
		return zero, ErrEmptyCollection
	}
	return c.items[c.order[(c.cursor+1)%len(c.order)]], nil
}

// Current returns the item under the cursor.
func (c *Carousel[T]) Current() (T, error) {
	if c.IsEmpty() {
		var zero T
		return zero, ErrEmptyCollection
	}
	return c.items[c.order[c.cursor]], nil
}

// SkipTo moves the cursor onto key. On a miss the carousel is left untouched and the returned
// error wraps ErrKeyNotFound.
func (c *Carousel[T]) SkipTo(key string) (T, error) {
	for i, k := range c.order {
		if k == key {
			c.cursor = i
			return c.items[k], nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
}

// Clear drops every item and resets the cursor.
func (c *Carousel[T]) Clear() {
	c.items = make(map[string]T)
	c.order = nil
	c.cursor = 0
}

// IsEmpty reports whether the carousel holds no items.
func (c *Carousel[T]) IsEmpty() bool {
	return len(c.order) == 0
}

// Has reports whether an item with key is present.
func (c *Carousel[T]) Has(key string) bool {
	_, ok := c.items[key]
	return ok
}

// Len returns the number of items.
func (c *Carousel[T]) Len() int {
	return len(c.order)
}

// Keys returns a copy of the rotation order.
func (c *Carousel[T]) Keys() []string {
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	return keys
}

// Cursor returns the index of the current item.
func (c *Carousel[T]) Cursor() int {
	return c.cursor
}
