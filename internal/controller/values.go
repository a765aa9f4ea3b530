package controller

import (
	"context"
	"fmt"

	"github.com/zjrosen/sheetbind/internal/batch"
	"github.com/zjrosen/sheetbind/internal/cachemanager"
	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/log"
)

// Value returns the cached value of the qualified name. It never reads the
// document; unknown names and absent markers yield nil. Values are held in
// their normalized form: every number is a float64, so a value set as 42
// reads back as 42.0.
func (c *Controller) Value(qualified string) any {
	v, ok := c.values.Get(context.Background(), qualified)
	if !ok {
		return nil
	}
	return v.Value
}

// ValueOf returns the cached value of a logical value name.
func (c *Controller) ValueOf(name string) any {
	return c.Value(QualifiedValueName(name))
}

// SetValue writes v through to the document and then to the cache. v must
// be nil, a string, a bool or a number; numbers of any Go type are stored as
// float64 and nil as the empty string (see host.NormalizeScalar). Other
// types fail with host.ErrInvalidScalar. The marker is recreated with a
// formula for v, keeping the comment of the marker it replaces. The cache is
// left alone when the write fails.
func (c *Controller) SetValue(ctx context.Context, qualified string, v any) error {
	normalized, err := host.NormalizeScalar(v)
	if err != nil {
		return fmt.Errorf("setting %s: %w", qualified, err)
	}
	formula, err := host.FormulaFor(normalized)
	if err != nil {
		return fmt.Errorf("setting %s: %w", qualified, err)
	}

	scope := c.Scope()
	err = c.batcher.Run(ctx, func(ctx context.Context, bt *batch.Batch) error {
		names := bt.Names(scope)
		existing := names.GetItemOrNull(qualified)
		if err := bt.Sync(ctx); err != nil {
			return err
		}
		var comment string
		if item := existing.Value(); item.Present {
			comment = item.Value.Comment
			names.Delete(qualified)
		}
		names.Add(qualified, formula, comment)
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting %s on %s: %w", qualified, scope, err)
	}

	c.values.Set(ctx, qualified, cachedValue{Value: normalized}, cachemanager.NoExpiration)
	log.Debug(log.CatController, "value set", "controller", c.def.Name, "name", qualified, "value", normalized)
	return nil
}

// SetValueOf is SetValue for a logical value name.
func (c *Controller) SetValueOf(ctx context.Context, name string, v any) error {
	return c.SetValue(ctx, QualifiedValueName(name), v)
}

// ValueNames returns the qualified names of the declared values in
// declaration order.
func (c *Controller) ValueNames() []string {
	names := make([]string, len(c.def.Values))
	for i, v := range c.def.Values {
		names[i] = QualifiedValueName(v)
	}
	return names
}

// Values returns a copy of the value cache keyed by qualified name.
func (c *Controller) Values() map[string]any {
	items := c.values.Items(context.Background())
	out := make(map[string]any, len(items))
	for k, v := range items {
		out[k] = v.Value
	}
	return out
}

// ValueAccessor reads and writes one declared value.
type ValueAccessor struct {
	c         *Controller
	name      string
	qualified string
}

// Accessor returns the accessor of a declared logical value.
func (c *Controller) Accessor(name string) (ValueAccessor, bool) {
	q := QualifiedValueName(name)
	for _, v := range c.def.Values {
		if QualifiedValueName(v) == q {
			return ValueAccessor{c: c, name: v, qualified: q}, true
		}
	}
	return ValueAccessor{}, false
}

// Name returns the logical name.
func (a ValueAccessor) Name() string { return a.name }

// QualifiedName returns the backing marker name.
func (a ValueAccessor) QualifiedName() string { return a.qualified }

// Get returns the cached value.
func (a ValueAccessor) Get() any { return a.c.Value(a.qualified) }

// Set writes the value through to the document.
func (a ValueAccessor) Set(ctx context.Context, v any) error {
	return a.c.SetValue(ctx, a.qualified, v)
}

// ReloadValues re-reads every declared value from the document in one
// batch, replacing the cache. Used after the document changed underneath
// the controller.
func (c *Controller) ReloadValues(ctx context.Context) error {
	switch c.State() {
	case StateDestroyed, StateFailed:
		return ErrDestroyed
	}

	lookups := make(map[string]*batch.Result[batch.Maybe[host.NamedItem]], len(c.def.Values))
	err := c.batcher.Run(ctx, func(ctx context.Context, bt *batch.Batch) error {
		names := bt.Names(c.Scope())
		for _, v := range c.def.Values {
			q := QualifiedValueName(v)
			lookups[q] = names.GetItemOrNull(q)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reloading values of %s: %w", c.def.Name, err)
	}

	for q, r := range lookups {
		var v any
		if item := r.Value(); item.Present {
			v = item.Value.Value
		}
		c.values.Set(ctx, q, cachedValue{Value: v}, cachemanager.NoExpiration)
	}
	c.RefreshTaskPane()
	return nil
}
