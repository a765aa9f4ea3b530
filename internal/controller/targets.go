package controller

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/zjrosen/sheetbind/internal/batch"
	"github.com/zjrosen/sheetbind/internal/binding"
	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/log"
)

// pendingTarget holds the lookups queued for one declared target until the
// batch is flushed.
type pendingTarget struct {
	name    string
	address string
	scope   host.Scope

	scoped *batch.Result[batch.Maybe[host.NamedItem]]
	global *batch.Result[batch.Maybe[host.NamedItem]]
	table  *batch.Result[batch.Maybe[host.Table]]
}

type resolvedTarget struct {
	name   string
	target binding.Target
}

func (c *Controller) queueTargets(bt *batch.Batch, scope host.Scope) []pendingTarget {
	var pending []pendingTarget
	for _, t := range c.def.Targets {
		if t.Name != "" {
			p := pendingTarget{
				name:   t.Name,
				scope:  scope,
				scoped: bt.Names(scope).GetItemOrNull(t.Name),
				table:  bt.TableOrNull(t.Name),
			}
			if !scope.IsWorkbook() {
				p.global = bt.Names(host.Workbook()).GetItemOrNull(t.Name)
			}
			pending = append(pending, p)
		}
		for _, local := range slices.Sorted(maps.Keys(t.Ranges)) {
			pending = append(pending, pendingTarget{name: local, address: t.Ranges[local]})
		}
	}
	return pending
}

// resolveTargets turns flushed lookups into binding targets. Names resolve
// to a referring named item first and a table second; range maps resolve on
// sheet. Targets that resolve to nothing are skipped.
func (c *Controller) resolveTargets(pending []pendingTarget, sheet string) []resolvedTarget {
	var out []resolvedTarget
	for _, p := range pending {
		if p.address != "" {
			if sheet == "" {
				log.Warn(log.CatController, "no worksheet for range target", "controller", c.def.Name, "target", p.name)
				continue
			}
			out = append(out, resolvedTarget{name: p.name, target: binding.Range(sheet, p.address)})
			continue
		}

		if isReference(p.scoped) {
			out = append(out, resolvedTarget{name: p.name, target: binding.NamedItem(p.scope, p.name)})
			continue
		}
		if isReference(p.global) {
			out = append(out, resolvedTarget{name: p.name, target: binding.NamedItem(host.Workbook(), p.name)})
			continue
		}
		if t := p.table.Value(); t.Present {
			out = append(out, resolvedTarget{name: p.name, target: binding.Table(t.Value.Name)})
			continue
		}
		log.Debug(log.CatController, "target not found", "controller", c.def.Name, "target", p.name)
	}
	return out
}

func isReference(r *batch.Result[batch.Maybe[host.NamedItem]]) bool {
	if r == nil || r.Value().IsNull() {
		return false
	}
	_, ok := host.Reference(r.Value().Value.Formula)
	return ok
}

func (ob *ownedBinding) destroy(ctx context.Context) error {
	for _, off := range ob.offs {
		off()
	}
	return ob.binding.Destroy(ctx)
}

// AddBinding binds target under name and wires the definition's target
// handlers for name. An existing binding with the same name is destroyed
// first, so listeners are never attached twice.
func (c *Controller) AddBinding(ctx context.Context, name string, target binding.Target) error {
	if err := c.RemoveBinding(ctx, name); err != nil {
		log.ErrorErr(log.CatController, "replacing binding", err, "controller", c.def.Name, "binding", name)
	}

	bd, err := binding.Create(ctx, c.batcher, target, name)
	if err != nil {
		return err
	}

	ob := &ownedBinding{binding: bd}
	if th, ok := c.def.TargetHandlers[name]; ok {
		if th.DataChanged != nil {
			ob.offs = append(ob.offs, bd.On(binding.DataChanged, c.targetListener(th.DataChanged)))
		}
		if th.SelectionChanged != nil {
			ob.offs = append(ob.offs, bd.On(binding.SelectionChanged, c.targetListener(th.SelectionChanged)))
		}
	}

	c.mu.Lock()
	if c.destroyed.Load() {
		c.mu.Unlock()
		if err := ob.destroy(ctx); err != nil {
			log.ErrorErr(log.CatController, "destroying late binding", err, "controller", c.def.Name, "binding", name)
		}
		return ErrDestroyed
	}
	prev := c.bindings[name]
	c.bindings[name] = ob
	c.mu.Unlock()

	if prev != nil {
		if err := prev.destroy(ctx); err != nil {
			log.ErrorErr(log.CatController, "replacing binding", err, "controller", c.def.Name, "binding", name)
		}
	}
	return nil
}

func (c *Controller) targetListener(h TargetHandler) binding.Listener {
	return func(ctx context.Context, ev binding.Event) {
		switch c.State() {
		case StateDestroyed, StateFailed:
			return
		}
		if err := h(ctx, c, ev); err != nil {
			log.ErrorErr(log.CatController, "target handler failed", err,
				"controller", c.def.Name, "binding", ev.Binding.Name(), "event", ev.Type)
		}
		c.RefreshTaskPane()
	}
}

// RemoveBinding destroys the binding called name, if any.
func (c *Controller) RemoveBinding(ctx context.Context, name string) error {
	c.mu.Lock()
	ob, ok := c.bindings[name]
	delete(c.bindings, name)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := ob.destroy(ctx); err != nil {
		return fmt.Errorf("removing binding %s: %w", name, err)
	}
	return nil
}

// Binding returns the binding called name.
func (c *Controller) Binding(name string) (*binding.Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ob, ok := c.bindings[name]
	if !ok {
		return nil, false
	}
	return ob.binding, true
}

// Bindings returns the owned bindings ordered by name.
func (c *Controller) Bindings() []*binding.Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*binding.Binding, 0, len(c.bindings))
	for _, name := range slices.Sorted(maps.Keys(c.bindings)) {
		out = append(out, c.bindings[name].binding)
	}
	return out
}
