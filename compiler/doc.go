/*

Process of compilation

LLVM-like Module ->
	destruct (front) ->
Regionalized Value-State Dependence Graph (rvsdg) ->
	normalize ->
	points-to analysis (alias) ->
	memory-state encoding (alias) ->
	normalize ->
	structure (back) ->
LLVM-like Module

The graph is a demand-driven SSA form: computation is a data-flow
graph, control flow is expressed by structural nodes owning nested
regions (gamma for conditionals, theta for loops, lambda for
functions, delta for globals, phi for recursion groups, the graph
root for the translation unit).

*/
package compiler
