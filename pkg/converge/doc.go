// Package converge brings a host in line with a rendered client.rb.
//
// A Plan lays out the resources for one converge: the Chef directories,
// the gems named in chef_client.load_gems, the client.rb template, and a
// delayed reload step the template notifies when its content changes. The
// Runner orders the plan with a DAG, applies it against a Target (the local
// filesystem or a remote host), and reports every resource outcome.
//
// Rendering happens before anything is touched: a render error fails the
// run with the target unchanged.
package converge
