// Package modifier implements the chain-shaping combinators.
//
// A modifier consumes a window of the declarations that follow it and wraps
// them instead of running them in sequence. The window is either a counted
// subchain (the next n leaves; modifiers met while slicing recurse and
// consume their own window first) or, for negative counts, every remaining
// declaration. Fan-out modifiers (Any, FirstSuccess, Assert, Collect) take
// n units instead, where a unit is one declaration together with whatever
// window it consumes, and every remaining unit for negative counts.
//
// Every modifier validates its arguments and window at compile time and
// reports problems as configuration errors, never at invocation.
//
// Modifiers are declared in code with the constructors of this package, or
// by name through Build for data-driven declarations:
//
//	wrap           Wrap(n)
//	perItem        PerItem(n)
//	collect        Collect(n), CollectKeys(keys...)
//	assert         Assert(n)
//	any            Any(n)
//	firstSuccess   FirstSuccess(n)
//	applyNextIf    ApplyNextIf(cond, n)
//	skipNextIf     SkipNextIf(cond, n)
//	failIf         FailIf(cond)
//	failTo         FailTo(fallback, handler)
//	failNextTo     FailNextTo(fallback, handler, n)
//	skipIfMatch    SkipIfMatch(values, n, opts...)
//	groups         Groups(names, n)
//	errorTemplate  ErrorTemplate(override, n)
package modifier
