// Package rules evaluates challenge conditions against an entity's metrics
// snapshot. Conditions are a closed expression form: comparisons and
// boolean combinators over snapshot fields, integer literals, and the
// min/max/progress helpers. There is no general scripting surface.
package rules
