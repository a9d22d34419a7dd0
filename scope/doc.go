// Package scope creates short-lived dependency scopes on top of a dig root container.
//
// A Factory borrows the application's root container and hands out child
// scopes, one per unit of work. Each child has its own dig container, so
// the constructors registered with Factory.Provide build fresh instances for
// every scope. Types declared with Share are resolved once, from the root,
// and are visible to all children.
//
// A child scope provides itself, so constructors may take a *Scope to
// register teardown with OnRelease. Release runs the teardown exactly once.
package scope
