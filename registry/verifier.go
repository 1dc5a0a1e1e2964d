// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	goset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tochemey/pgroups/cluster"
	"github.com/tochemey/pgroups/log"
)

// Diff reports one node's deviation from the authoritative membership of
// one group. Missing lists authoritative members the node does not claim;
// Extra lists members the node claims that no home node vouches for.
type Diff struct {
	Node    string
	Group   string
	Missing []cluster.Endpoint
	Extra   []cluster.Endpoint
}

// Report summarises a cluster-wide state verification. The authoritative
// membership of a group is the union, over every responding node, of the
// local members that node reports for itself.
type Report struct {
	// Nodes lists the nodes that contributed their view
	Nodes []string
	// Groups lists every group seen on any node
	Groups []string
	// Members counts the authoritative memberships across all groups
	Members int
	// Diffs lists the per-node, per-group deviations
	Diffs []Diff
	// Unreachable lists the nodes whose view could not be fetched
	Unreachable []string
}

// String renders the report for operational consumption.
func (r *Report) String() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "nodes=%d groups=%d members=%d diffs=%d unreachable=%d",
		len(r.Nodes), len(r.Groups), r.Members, len(r.Diffs), len(r.Unreachable))
	for _, diff := range r.Diffs {
		fmt.Fprintf(&builder, "\nnode=%s group=%s missing=%v extra=%v",
			diff.Node, diff.Group, diff.Missing, diff.Extra)
	}
	for _, node := range r.Unreachable {
		fmt.Fprintf(&builder, "\nnode=%s unreachable", node)
	}
	return builder.String()
}

// verifier scrapes the materialised lists of every known node and computes
// the per-node, per-group membership asymmetries. It never mutates
// registry state.
type verifier struct {
	node     string
	provider cluster.Provider
	logger   log.Logger
	// fetchLocal reads the local node's snapshots through the receive loop
	fetchLocal func(ctx context.Context, groups []string) ([]listSnapshot, error)
}

func newVerifier(node string, provider cluster.Provider, logger log.Logger, fetchLocal func(ctx context.Context, groups []string) ([]listSnapshot, error)) *verifier {
	return &verifier{
		node:       node,
		provider:   provider,
		logger:     logger,
		fetchLocal: fetchLocal,
	}
}

// run fetches every node's view of the given groups (or of all groups when
// none is given) and assembles the diff report. A node that cannot be
// reached is recorded in the report rather than raised.
func (v *verifier) run(ctx context.Context, groups []string) (*Report, error) {
	nodes := append([]string{v.node}, v.provider.Peers()...)
	sort.Strings(nodes)

	views := make([][]listSnapshot, len(nodes))
	failures := make([]error, len(nodes))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		eg.Go(func() error {
			lists, err := v.fetch(egCtx, node, groups)
			views[i], failures[i] = lists, err
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return v.assemble(nodes, views, failures), nil
}

// fetch reads one node's materialised lists.
func (v *verifier) fetch(ctx context.Context, node string, groups []string) ([]listSnapshot, error) {
	if node == v.node {
		return v.fetchLocal(ctx, groups)
	}

	payload, err := encodeEnvelope(&envelope{Type: wireFetch, From: v.node, Groups: groups})
	if err != nil {
		return nil, err
	}
	// the per-node read carries no explicit timeout and relies on the substrate
	data, err := v.provider.Call(ctx, node, ServiceName, payload, 0)
	if err != nil {
		return nil, err
	}
	reply, err := decodeAck(data)
	if err != nil {
		return nil, err
	}
	return reply.Lists, nil
}

// assemble derives the authoritative membership per group and the per-node
// deviations from it.
func (v *verifier) assemble(nodes []string, views [][]listSnapshot, failures []error) *Report {
	authoritative := make(map[string]goset.Set[cluster.Endpoint])
	claimed := make(map[string]map[string]goset.Set[cluster.Endpoint])
	groups := goset.NewSet[string]()

	report := &Report{Nodes: make([]string, 0, len(nodes))}
	for i, node := range nodes {
		if failures[i] != nil {
			v.logger.Warnf("verification could not fetch node=(%s): %v", node, failures[i])
			report.Unreachable = append(report.Unreachable, node)
			continue
		}
		report.Nodes = append(report.Nodes, node)
		claimed[node] = make(map[string]goset.Set[cluster.Endpoint])

		for _, snapshot := range views[i] {
			groups.Add(snapshot.Group)

			auth, ok := authoritative[snapshot.Group]
			if !ok {
				auth = goset.NewSet[cluster.Endpoint]()
				authoritative[snapshot.Group] = auth
			}
			// a node is authoritative only for the members it hosts
			for _, wire := range snapshot.Local {
				if wire.Node == node {
					auth.Add(wire.endpoint())
				}
			}

			claims := goset.NewSet[cluster.Endpoint]()
			for _, wire := range snapshot.All {
				claims.Add(wire.endpoint())
			}
			claimed[node][snapshot.Group] = claims
		}
	}

	report.Groups = groups.ToSlice()
	sort.Strings(report.Groups)
	for _, group := range report.Groups {
		report.Members += authoritative[group].Cardinality()
	}

	for _, node := range report.Nodes {
		for _, group := range report.Groups {
			claims, ok := claimed[node][group]
			if !ok {
				claims = goset.NewSet[cluster.Endpoint]()
			}
			missing := authoritative[group].Difference(claims).ToSlice()
			extra := claims.Difference(authoritative[group]).ToSlice()
			if len(missing) == 0 && len(extra) == 0 {
				continue
			}
			sortEndpoints(missing)
			sortEndpoints(extra)
			report.Diffs = append(report.Diffs, Diff{
				Node:    node,
				Group:   group,
				Missing: missing,
				Extra:   extra,
			})
		}
	}
	return report
}
