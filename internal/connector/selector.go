package connector

import (
	"context"
	"slices"
	"strings"
)

// Selector plays the role of the wallet picker. It returns the chosen backend
// name, or "" when the user dismissed the choice.
type Selector interface {
	Select(ctx context.Context, names []string) (string, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context, names []string) (string, error)

// Select implements Selector.
func (f SelectorFunc) Select(ctx context.Context, names []string) (string, error) {
	return f(ctx, names)
}

type choiceKey struct{}

// WithChoice records the caller's pick on ctx for ContextSelector.
func WithChoice(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, choiceKey{}, strings.TrimSpace(name))
}

// ChoiceFrom returns the pick stored by WithChoice.
func ChoiceFrom(ctx context.Context) string {
	name, _ := ctx.Value(choiceKey{}).(string)
	return name
}

// ContextSelector picks the name carried by the request context, then
// Default. A name outside the offered list counts as a dismissal.
type ContextSelector struct {
	Default string
}

// Select implements Selector.
func (s ContextSelector) Select(ctx context.Context, names []string) (string, error) {
	name := ChoiceFrom(ctx)
	if name == "" {
		name = s.Default
	}
	if name == "" || !slices.Contains(names, name) {
		return "", nil
	}
	return name, nil
}
